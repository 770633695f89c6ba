package timeline

import "log/slog"

// Config holds configuration for the fan-out Engine and the Reader.
type Config struct {
	// BatchSize is the number of follower writes per store request.
	// Default: 100
	BatchSize int

	// Concurrency bounds the batches in flight during fan-out and the
	// pointer lookups in flight during a timeline read.
	// Default: 8
	Concurrency int

	// BackfillLimit is the number of a followee's recent posts seeded on follow.
	// Default: 10
	BackfillLimit int

	// Logger receives partial-failure warnings. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the default fan-out settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		Concurrency:   8,
		BackfillLimit: 10,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.BatchSize < 1 {
		c.BatchSize = 100
	}
	if c.BatchSize > 1000 {
		c.BatchSize = 1000
	}
	if c.Concurrency < 1 {
		c.Concurrency = 8
	}
	if c.BackfillLimit < 0 {
		c.BackfillLimit = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ReadOptions bound a timeline read.
type ReadOptions struct {
	// MaxVersionsPerAuthor is the number of pointers read per followed author.
	// Default: Versions
	MaxVersionsPerAuthor int

	// TopN is the number of posts returned.
	// Default: 100
	TopN int
}

// DefaultReadOptions returns the default read window.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{
		MaxVersionsPerAuthor: Versions,
		TopN:                 100,
	}
}

func (o *ReadOptions) validate() {
	if o.MaxVersionsPerAuthor < 1 || o.MaxVersionsPerAuthor > Versions {
		o.MaxVersionsPerAuthor = Versions
	}
	if o.TopN < 1 {
		o.TopN = 100
	}
}
