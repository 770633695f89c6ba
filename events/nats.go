// Package events carries PostPublished events over NATS so fan-out can run
// in workers instead of on the publish path.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacentio/ripple/feed"
	"github.com/jacentio/ripple/timeline"
)

const tracerName = "github.com/jacentio/ripple/events"

// ErrMalformed is returned for messages that cannot be decoded into an event.
var ErrMalformed = errors.New("ripple: malformed event")

// Message is the wire form of a PostPublished event.
type Message struct {
	EventID   string `json:"event_id"`
	Key       string `json:"key"`
	AuthorID  string `json:"author_id"`
	Timestamp int64  `json:"ts"`
}

// Config holds configuration for a Publisher and a Consumer.
type Config struct {
	// Subject is the NATS subject events are published on.
	// Default: "ripple.post.published"
	Subject string

	// Queue is the queue group consumers join, so each event is fanned out
	// by one worker.
	// Default: "ripple-fanout"
	Queue string

	// HandleTimeout bounds the fan-out of one event.
	// Default: 30s
	HandleTimeout time.Duration

	// Logger for publish and consume logs.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Subject:       "ripple.post.published",
		Queue:         "ripple-fanout",
		HandleTimeout: 30 * time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	defaults := DefaultConfig()
	if c.Subject == "" {
		c.Subject = defaults.Subject
	}
	if c.Queue == "" {
		c.Queue = defaults.Queue
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = defaults.HandleTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// MsgPublisher is the subset of *nats.Conn used by Publisher.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher is a feed.Notifier that publishes events to NATS.
type Publisher struct {
	conn   MsgPublisher
	config Config
}

var _ feed.Notifier = (*Publisher)(nil)

// NewPublisher creates a Publisher on conn.
func NewPublisher(conn MsgPublisher, config Config) *Publisher {
	config.validate()
	return &Publisher{conn: conn, config: config}
}

// PostPublished publishes ev with the caller's trace context in the headers.
func (p *Publisher) PostPublished(ctx context.Context, ev feed.PostPublished) error {
	data, err := json.Marshal(Message{
		EventID:   uuid.NewString(),
		Key:       ev.Key,
		AuthorID:  ev.AuthorID,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.config.Subject,
		Data:    data,
		Header:  nats.Header{},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Key, err)
	}
	p.config.Logger.Debug("event published",
		"subject", msg.Subject,
		"post", ev.Key,
	)
	return nil
}

// FanOuter delivers a published post to its author's followers.
type FanOuter interface {
	FanOut(ctx context.Context, ev feed.PostPublished) (timeline.Result, error)
}

// Consumer fans out events received from NATS.
type Consumer struct {
	fanout FanOuter
	config Config
	tracer trace.Tracer
}

// NewConsumer creates a Consumer delivering through fanout.
func NewConsumer(fanout FanOuter, config Config) *Consumer {
	config.validate()
	return &Consumer{
		fanout: fanout,
		config: config,
		tracer: otel.Tracer(tracerName),
	}
}

// Subscribe joins the consumer's queue group on conn.
func (c *Consumer) Subscribe(conn *nats.Conn) (*nats.Subscription, error) {
	sub, err := conn.QueueSubscribe(c.config.Subject, c.config.Queue, c.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.config.Subject, err)
	}
	c.config.Logger.Info("listening for events",
		"subject", c.config.Subject,
		"queue", c.config.Queue,
	)
	return sub, nil
}

// Handle is the NATS message handler. Failures are logged; fan-out is
// idempotent, so a redelivered or republished event is safe.
func (c *Consumer) Handle(msg *nats.Msg) {
	if err := c.Process(context.Background(), msg); err != nil {
		c.config.Logger.Error("fan-out failed",
			"subject", msg.Subject,
			"error", err,
		)
	}
}

// Process decodes msg and fans the post out under the trace context carried
// in its headers. A partial fan-out is an error.
func (c *Consumer) Process(ctx context.Context, msg *nats.Msg) (err error) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	ctx, span := c.tracer.Start(ctx, "events.Process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var m Message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m.Key == "" || m.AuthorID == "" {
		return fmt.Errorf("%w: missing post key or author", ErrMalformed)
	}
	span.SetAttributes(
		attribute.String("event", m.EventID),
		attribute.String("post", m.Key),
	)

	ctx, cancel := context.WithTimeout(ctx, c.config.HandleTimeout)
	defer cancel()

	res, err := c.fanout.FanOut(ctx, feed.PostPublished{Key: m.Key, AuthorID: m.AuthorID, Timestamp: m.Timestamp})
	if err != nil {
		return fmt.Errorf("fan out %s: %w", m.Key, err)
	}
	if res.Partial() {
		return fmt.Errorf("fan out %s: %d of %d followers failed", m.Key, len(res.Failed), res.Attempted)
	}

	c.config.Logger.Debug("event processed",
		"event", m.EventID,
		"post", m.Key,
		"delivered", res.Delivered,
	)
	return nil
}
