package feed

import (
	"log/slog"
	"time"

	"github.com/jacentio/ripple/post"
	"github.com/jacentio/ripple/rowkey"
	"github.com/jacentio/ripple/timeline"
)

// Config holds configuration for a Service.
type Config struct {
	// Partitions is the number of pre-split partitions row keys are salted across.
	// Changing it re-keys every row; it must match the stored data.
	// Default: 9
	Partitions int

	// Location is where "yyyyMMdd" dates are interpreted.
	// Default: UTC
	Location *time.Location

	// Timeline configures fan-out batching and read concurrency.
	Timeline timeline.Config

	// DeferFanout skips inline fan-out on Publish and emits a PostPublished
	// event through Notifier instead. Requires a Notifier.
	DeferFanout bool

	// Notifier receives PostPublished events. Optional.
	Notifier Notifier

	// Cache resolves post lookups on the read path. Optional.
	Cache post.Cache

	// OperationTimeout bounds every operation; in-flight batches are
	// abandoned when it expires. Zero means no timeout.
	OperationTimeout time.Duration

	// Clock replaces the publish clock. Default: time.Now
	Clock func() time.Time

	// Logger receives lifecycle and partial-failure logs. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Partitions: rowkey.DefaultPartitions,
		Location:   time.UTC,
		Timeline:   timeline.DefaultConfig(),
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Partitions < 1 {
		c.Partitions = rowkey.DefaultPartitions
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.OperationTimeout < 0 {
		c.OperationTimeout = 0
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Timeline.Logger == nil {
		c.Timeline.Logger = c.Logger
	}
	if c.DeferFanout && c.Notifier == nil {
		c.Logger.Warn("deferred fan-out requested without a notifier; fanning out inline")
		c.DeferFanout = false
	}
}
