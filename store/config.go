package store

import "log/slog"

// DynamoConfig holds configuration for the DynamoDB-backed client.
type DynamoConfig struct {
	// Namespace prefixes every physical table name ("<namespace>.<table>").
	// Default: "weibo"
	Namespace string

	// NumShards is the number of buckets rows are hashed into.
	// Higher values spread write load but scans query every bucket in parallel.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int

	// TrimConcurrency bounds the parallel version-trim queries issued after a write.
	// Default: 8
	TrimConcurrency int

	// Logger receives retention warnings. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultDynamoConfig returns sensible defaults for small datasets.
func DefaultDynamoConfig() DynamoConfig {
	return DynamoConfig{
		Namespace:       "weibo",
		NumShards:       1,
		TrimConcurrency: 8,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *DynamoConfig) validate() {
	if c.Namespace == "" {
		c.Namespace = "weibo"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.TrimConcurrency < 1 {
		c.TrimConcurrency = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
