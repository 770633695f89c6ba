// Command ripple-worker provisions the feed tables and runs deferred fan-out,
// either as a NATS queue consumer or as a DynamoDB Streams Lambda.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/jacentio/ripple/cache"
	"github.com/jacentio/ripple/config"
	"github.com/jacentio/ripple/events"
	"github.com/jacentio/ripple/feed"
	"github.com/jacentio/ripple/post"
	"github.com/jacentio/ripple/store"
	"github.com/jacentio/ripple/stream"
)

const serviceName = "ripple-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := initLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "mode", cfg.Mode, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.OtelEndpoint != "" {
		tp, err := initTracer(ctx, cfg)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	dc := store.DefaultDynamoConfig()
	dc.Namespace = cfg.Namespace
	dc.NumShards = cfg.NumShards
	dc.Logger = logger
	client := store.NewDynamo(dynamodb.NewFromConfig(awsCfg), dc)

	postCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}

	fc := feed.DefaultConfig()
	fc.Partitions = cfg.Partitions
	fc.Location = cfg.Location
	fc.Cache = postCache
	fc.OperationTimeout = cfg.OperationTimeout
	fc.Timeline.BatchSize = cfg.FanoutBatch
	fc.Timeline.Concurrency = cfg.FanoutWorkers
	fc.Logger = logger
	svc := feed.New(client, fc)
	defer func() { _ = svc.Close() }()

	logger.Info("starting worker",
		"mode", cfg.Mode,
		"namespace", cfg.Namespace,
		"partitions", cfg.Partitions,
	)

	switch cfg.Mode {
	case config.ModeProvision:
		return svc.Provision(ctx)
	case config.ModeLambda:
		lambda.Start(stream.NewHandler(svc, logger).HandlePostStream)
		return nil
	default:
		return consume(ctx, cfg, svc, logger)
	}
}

// consume fans out NATS events until ctx is canceled.
func consume(ctx context.Context, cfg config.Config, svc *feed.Service, logger *slog.Logger) error {
	nc, err := nats.Connect(cfg.NatsURL, nats.Name(serviceName))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()
	logger.Info("connected to NATS", "url", cfg.NatsURL)

	ec := events.DefaultConfig()
	ec.Queue = cfg.Queue
	ec.Logger = logger
	sub, err := events.NewConsumer(svc, ec).Subscribe(nc)
	if err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain subscription: %w", err)
	}
	return nil
}

// newCache builds the post cache: an in-process LRU, fronting Redis when an
// address is configured.
func newCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (post.Cache, error) {
	lru, err := cache.NewLRU(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	if cfg.RedisAddr == "" {
		return lru, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, fmt.Errorf("instrument redis: %w", err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to Redis", "addr", cfg.RedisAddr)

	rc := cache.DefaultRedisConfig()
	rc.Logger = logger
	return cache.Tiered{lru, cache.NewRedis(rdb, rc)}, nil
}

func initLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func initTracer(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
