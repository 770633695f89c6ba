// Package cache provides post caches for the feed read path: an in-process
// LRU and a shared Redis cache. Both implement post.Cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jacentio/ripple/post"
)

// DefaultSize is the default LRU capacity in posts.
const DefaultSize = 10000

// LRU is an in-process post cache of bounded size. It is safe for concurrent use.
type LRU struct {
	posts *lru.Cache[string, post.Post]
}

// NewLRU creates an LRU holding up to size posts. Values below 1 use DefaultSize.
func NewLRU(size int) (*LRU, error) {
	if size < 1 {
		size = DefaultSize
	}
	posts, err := lru.New[string, post.Post](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &LRU{posts: posts}, nil
}

// Get returns a cached post. The returned Image is a copy.
func (c *LRU) Get(_ context.Context, key string) (post.Post, bool) {
	p, ok := c.posts.Get(key)
	if !ok {
		return post.Post{}, false
	}
	p.Image = cloneBytes(p.Image)
	return p, true
}

// Add caches a copy of p.
func (c *LRU) Add(_ context.Context, p post.Post) {
	p.Image = cloneBytes(p.Image)
	c.posts.Add(p.Key, p)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Len returns the number of cached posts.
func (c *LRU) Len() int {
	return c.posts.Len()
}

// RedisConfig holds configuration for the Redis cache.
type RedisConfig struct {
	// KeyPrefix namespaces cache keys.
	// Default: "ripple:post:"
	KeyPrefix string

	// TTL bounds how long an entry lives. Posts are immutable; the TTL only
	// bounds memory.
	// Default: 24h
	TTL time.Duration

	// Logger receives cache failures. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultRedisConfig returns the default Redis cache settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix: "ripple:post:",
		TTL:       24 * time.Hour,
	}
}

func (c *RedisConfig) validate() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "ripple:post:"
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Redis is a post cache shared between processes. Cache failures are logged
// and treated as misses, so a Redis outage only costs store reads.
type Redis struct {
	client redis.UniversalClient
	config RedisConfig
}

// NewRedis creates a Redis cache over client.
func NewRedis(client redis.UniversalClient, config RedisConfig) *Redis {
	config.validate()
	return &Redis{client: client, config: config}
}

// cachedPost is the JSON form of a cached post.
type cachedPost struct {
	Key       string `json:"key"`
	AuthorID  string `json:"author_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Image     []byte `json:"image,omitempty"`
	Timestamp int64  `json:"ts"`
}

func encode(p post.Post) ([]byte, error) {
	return json.Marshal(cachedPost{
		Key:       p.Key,
		AuthorID:  p.AuthorID,
		Title:     p.Title,
		Content:   p.Content,
		Image:     p.Image,
		Timestamp: p.Timestamp,
	})
}

func decode(data []byte) (post.Post, error) {
	var c cachedPost
	if err := json.Unmarshal(data, &c); err != nil {
		return post.Post{}, err
	}
	return post.Post{
		Key:       c.Key,
		AuthorID:  c.AuthorID,
		Title:     c.Title,
		Content:   c.Content,
		Image:     c.Image,
		Timestamp: c.Timestamp,
	}, nil
}

// Get reads a post from Redis. Failures are logged and reported as misses.
func (c *Redis) Get(ctx context.Context, key string) (post.Post, bool) {
	data, err := c.client.Get(ctx, c.config.KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return post.Post{}, false
	}
	if err != nil {
		c.config.Logger.Warn("post cache read failed",
			"key", key,
			"error", err,
		)
		return post.Post{}, false
	}
	p, err := decode(data)
	if err != nil {
		c.config.Logger.Warn("discarding undecodable cache entry",
			"key", key,
			"error", err,
		)
		return post.Post{}, false
	}
	return p, true
}

// Add writes p to Redis with the configured TTL. Failures are logged.
func (c *Redis) Add(ctx context.Context, p post.Post) {
	data, err := encode(p)
	if err != nil {
		c.config.Logger.Warn("post cache encode failed", "key", p.Key, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.config.KeyPrefix+p.Key, data, c.config.TTL).Err(); err != nil {
		c.config.Logger.Warn("post cache write failed",
			"key", p.Key,
			"error", err,
		)
	}
}

// Tiered reads through a list of caches in order and fills the earlier tiers
// on a hit in a later one. Add writes every tier.
type Tiered []post.Cache

// Get returns the post from the first tier holding it.
func (t Tiered) Get(ctx context.Context, key string) (post.Post, bool) {
	for i, c := range t {
		p, ok := c.Get(ctx, key)
		if !ok {
			continue
		}
		for _, earlier := range t[:i] {
			earlier.Add(ctx, p)
		}
		return p, true
	}
	return post.Post{}, false
}

// Add writes p to every tier.
func (t Tiered) Add(ctx context.Context, p post.Post) {
	for _, c := range t {
		c.Add(ctx, p)
	}
}
