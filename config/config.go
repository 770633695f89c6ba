// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Modes the worker process can run in.
const (
	ModeProvision = "provision"
	ModeLambda    = "lambda"
	ModeNats      = "nats"
)

// Config is the worker process configuration.
type Config struct {
	Env          string // "local" or "prod"
	Mode         string
	Namespace    string
	NumShards    int
	Partitions   int
	Location     *time.Location
	RedisAddr    string // empty disables the Redis cache tier
	CacheSize    int
	NatsURL      string
	Queue        string
	OtelEndpoint string // empty disables trace export

	OperationTimeout time.Duration
	FanoutBatch      int
	FanoutWorkers    int
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Env:          getEnv("APP_ENV", "local"),
		Mode:         getEnv("RIPPLE_MODE", ModeNats),
		Namespace:    getEnv("RIPPLE_NAMESPACE", "weibo"),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		NatsURL:      getEnv("NATS_URL", "nats://nats:4222"),
		Queue:        getEnv("RIPPLE_QUEUE", "ripple-fanout"),
		OtelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	var err error
	if cfg.NumShards, err = getEnvInt("RIPPLE_NUM_SHARDS", 1); err != nil {
		return Config{}, err
	}
	if cfg.Partitions, err = getEnvInt("RIPPLE_PARTITIONS", 9); err != nil {
		return Config{}, err
	}
	if cfg.CacheSize, err = getEnvInt("RIPPLE_CACHE_SIZE", 10000); err != nil {
		return Config{}, err
	}
	if cfg.FanoutBatch, err = getEnvInt("RIPPLE_FANOUT_BATCH", 100); err != nil {
		return Config{}, err
	}
	if cfg.FanoutWorkers, err = getEnvInt("RIPPLE_FANOUT_WORKERS", 8); err != nil {
		return Config{}, err
	}
	if cfg.OperationTimeout, err = getEnvDuration("RIPPLE_OPERATION_TIMEOUT", 0); err != nil {
		return Config{}, err
	}

	tz := getEnv("RIPPLE_TIMEZONE", "UTC")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return Config{}, fmt.Errorf("RIPPLE_TIMEZONE: %w", err)
	}

	switch cfg.Mode {
	case ModeProvision, ModeLambda, ModeNats:
	default:
		return Config{}, fmt.Errorf("RIPPLE_MODE: unknown mode %q", cfg.Mode)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
