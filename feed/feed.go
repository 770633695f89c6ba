// Package feed is the entry point of the feed layer. A Service publishes
// posts, maintains follow edges and reads timelines on top of a store.Client.
//
// # Consistency
//
// No operation is transactional across rows or tables. Every multi-row effect
// is a batch of idempotent single-cell writes, so a failed or abandoned
// operation can be retried as a whole:
//
//   - Publish fails only when the post itself was not written. Fan-out gaps
//     are reported in PublishResult.
//   - Follow and Unfollow succeed only when both halves of the edge were
//     applied; a *graph.PartialEdgeError names the missing half.
//   - Timeline drops pointers whose post no longer resolves.
package feed

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacentio/ripple/graph"
	"github.com/jacentio/ripple/post"
	"github.com/jacentio/ripple/rowkey"
	"github.com/jacentio/ripple/store"
	"github.com/jacentio/ripple/timeline"
)

const tracerName = "github.com/jacentio/ripple/feed"

// PostPublished announces a stored post whose fan-out is still pending.
type PostPublished struct {
	Key       string
	AuthorID  string
	Timestamp int64
}

// Notifier hands PostPublished events to fan-out workers.
type Notifier interface {
	PostPublished(ctx context.Context, ev PostPublished) error
}

// PublishInput is a post to publish.
type PublishInput struct {
	AuthorID string
	Title    string
	Content  string
	Image    []byte
}

// PublishResult reports a stored post and how far its fan-out got.
type PublishResult struct {
	Key       string
	Timestamp int64

	// Fanout is the inline fan-out result. Empty when Deferred.
	Fanout timeline.Result

	// FanoutErr is set when followers could not be listed; no timeline was written.
	FanoutErr error

	// Deferred reports that fan-out was handed to the Notifier.
	Deferred bool
}

// Partial reports whether some follower may be missing the post.
func (r PublishResult) Partial() bool {
	return r.FanoutErr != nil || r.Fanout.Partial()
}

// FollowResult reports a created edge and the seeding of the follower's timeline.
type FollowResult struct {
	Backfill timeline.Result

	// BackfillErr is set when the followee's posts could not be scanned.
	// The edge is in place; new posts still arrive through fan-out.
	BackfillErr error
}

// Service wires the graph, post store, fan-out engine and reader.
type Service struct {
	client store.Client
	graph  *graph.Manager
	posts  *post.Store
	engine *timeline.Engine
	reader *timeline.Reader
	config Config
	tracer trace.Tracer
}

// New creates a Service over client. The Service takes ownership of client
// and closes it on Close.
func New(client store.Client, config Config) *Service {
	config.validate()
	codec := rowkey.New(config.Partitions)

	opts := []post.Option{
		post.WithClock(config.Clock),
		post.WithLocation(config.Location),
		post.WithLogger(config.Logger),
	}
	if config.Cache != nil {
		opts = append(opts, post.WithCache(config.Cache))
	}

	g := graph.NewManager(client, codec, config.Logger)
	p := post.NewStore(client, codec, opts...)
	return &Service{
		client: client,
		graph:  g,
		posts:  p,
		engine: timeline.NewEngine(client, codec, g, p, config.Timeline),
		reader: timeline.NewReader(client, codec, p, config.Timeline),
		config: config,
		tracer: otel.Tracer(tracerName),
	}
}

// start opens a span and applies the operation timeout.
func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	cancel := context.CancelFunc(func() {})
	if s.config.OperationTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.config.OperationTimeout)
	}
	return ctx, span, cancel
}

// finish records err on span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Provision creates the feed tables when missing.
func (s *Service) Provision(ctx context.Context) (err error) {
	ctx, span, cancel := s.start(ctx, "feed.Provision")
	defer cancel()
	defer func() { finish(span, err) }()

	created, err := Provision(ctx, s.client, s.config.Partitions)
	if err != nil {
		return err
	}
	s.config.Logger.Info("feed tables provisioned",
		"created", created,
		"partitions", s.config.Partitions,
	)
	return nil
}

// Publish stores a post and fans it out to the author's followers, inline or
// through the Notifier.
func (s *Service) Publish(ctx context.Context, in PublishInput) (res PublishResult, err error) {
	ctx, span, cancel := s.start(ctx, "feed.Publish", attribute.String("author", in.AuthorID))
	defer cancel()
	defer func() { finish(span, err) }()

	key, ts, err := s.posts.Publish(ctx, in.AuthorID, in.Title, in.Content, in.Image)
	if err != nil {
		return PublishResult{}, err
	}
	res = PublishResult{Key: key, Timestamp: ts}
	span.SetAttributes(attribute.String("post", key))

	if s.config.DeferFanout {
		ev := PostPublished{Key: key, AuthorID: in.AuthorID, Timestamp: ts}
		nerr := s.config.Notifier.PostPublished(ctx, ev)
		if nerr == nil {
			res.Deferred = true
			return res, nil
		}
		s.config.Logger.Warn("notify failed; fanning out inline",
			"post", key,
			"error", nerr,
		)
	}

	res.Fanout, res.FanoutErr = s.engine.FanOut(ctx, in.AuthorID, key, ts)
	if res.FanoutErr != nil {
		s.config.Logger.Warn("fan-out skipped",
			"post", key,
			"error", res.FanoutErr,
		)
	}
	span.SetAttributes(
		attribute.Int("fanout.attempted", res.Fanout.Attempted),
		attribute.Int("fanout.failed", len(res.Fanout.Failed)),
	)
	return res, nil
}

// FanOut delivers a published post to the author's followers. Workers call it
// for deferred fan-out.
func (s *Service) FanOut(ctx context.Context, ev PostPublished) (res timeline.Result, err error) {
	ctx, span, cancel := s.start(ctx, "feed.FanOut",
		attribute.String("author", ev.AuthorID),
		attribute.String("post", ev.Key),
	)
	defer cancel()
	defer func() { finish(span, err) }()

	res, err = s.engine.FanOut(ctx, ev.AuthorID, ev.Key, ev.Timestamp)
	if err != nil {
		return res, err
	}
	span.SetAttributes(
		attribute.Int("fanout.attempted", res.Attempted),
		attribute.Int("fanout.failed", len(res.Failed)),
	)
	return res, nil
}

// Follow creates the edge followerID -> followeeID and seeds the follower's
// timeline with the followee's recent posts.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) (res FollowResult, err error) {
	ctx, span, cancel := s.start(ctx, "feed.Follow",
		attribute.String("follower", followerID),
		attribute.String("followee", followeeID),
	)
	defer cancel()
	defer func() { finish(span, err) }()

	if err := s.graph.Follow(ctx, followerID, followeeID); err != nil {
		return FollowResult{}, err
	}

	res.Backfill, res.BackfillErr = s.engine.Backfill(ctx, followerID, followeeID)
	if res.BackfillErr != nil {
		s.config.Logger.Warn("backfill skipped",
			"follower", followerID,
			"followee", followeeID,
			"error", res.BackfillErr,
		)
	}
	return res, nil
}

// Unfollow removes the edge followerID -> followeeID and purges every pointer
// to the followee's posts from the follower's timeline.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) (err error) {
	ctx, span, cancel := s.start(ctx, "feed.Unfollow",
		attribute.String("follower", followerID),
		attribute.String("followee", followeeID),
	)
	defer cancel()
	defer func() { finish(span, err) }()

	if err := s.graph.Unfollow(ctx, followerID, followeeID); err != nil {
		return err
	}
	return s.engine.Purge(ctx, followerID, followeeID)
}

// Timeline returns viewerID's newest posts, newest first.
func (s *Service) Timeline(ctx context.Context, viewerID string, opts timeline.ReadOptions) (posts []post.Post, err error) {
	ctx, span, cancel := s.start(ctx, "feed.Timeline", attribute.String("viewer", viewerID))
	defer cancel()
	defer func() { finish(span, err) }()

	posts, err = s.reader.Timeline(ctx, viewerID, opts)
	span.SetAttributes(attribute.Int("posts", len(posts)))
	return posts, err
}

// PostsByDate returns userID's posts published on day ("yyyyMMdd") whose title equals title.
func (s *Service) PostsByDate(ctx context.Context, userID, day, title string) (posts []post.Post, err error) {
	ctx, span, cancel := s.start(ctx, "feed.PostsByDate",
		attribute.String("user", userID),
		attribute.String("day", day),
	)
	defer cancel()
	defer func() { finish(span, err) }()

	return s.reader.PostsByDate(ctx, userID, day, title)
}

// Post returns one post by key.
func (s *Service) Post(ctx context.Context, key string) (p post.Post, err error) {
	ctx, span, cancel := s.start(ctx, "feed.Post", attribute.String("post", key))
	defer cancel()
	defer func() {
		if errors.Is(err, store.ErrNotFound) {
			span.End()
			return
		}
		finish(span, err)
	}()

	return s.posts.Get(ctx, key)
}

// Followers returns the ids following userID.
func (s *Service) Followers(ctx context.Context, userID string) (ids []string, err error) {
	ctx, span, cancel := s.start(ctx, "feed.Followers", attribute.String("user", userID))
	defer cancel()
	defer func() { finish(span, err) }()

	return s.graph.Followers(ctx, userID)
}

// Followees returns the ids userID follows.
func (s *Service) Followees(ctx context.Context, userID string) (ids []string, err error) {
	ctx, span, cancel := s.start(ctx, "feed.Followees", attribute.String("user", userID))
	defer cancel()
	defer func() { finish(span, err) }()

	return s.graph.Followees(ctx, userID)
}

// Close closes the store client.
func (s *Service) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
