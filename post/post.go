// Package post stores immutable posts under author-salted, newest-first row keys.
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jacentio/ripple/rowkey"
	"github.com/jacentio/ripple/store"
)

const (
	// Table is the posts table.
	Table = "t_weibo"

	// Family holds every post attribute.
	Family = "cf1"

	// ColTitle holds the post title.
	ColTitle = "title"
	// ColContent holds the post body.
	ColContent = "content"
	// ColImage holds the optional image bytes.
	ColImage = "image"
	// ColUserID holds the author id.
	ColUserID = "userid"
)

// TableSpec declares the posts table.
var TableSpec = store.TableSpec{
	Name:     Table,
	Families: []store.FamilySpec{{Name: Family, MaxVersions: 1}},
}

// Post is a published post.
type Post struct {
	Key       string
	AuthorID  string
	Title     string
	Content   string
	Image     []byte
	Timestamp int64
}

// Ref points at a post by key and publish time.
type Ref struct {
	Key       string
	Timestamp int64
}

// Cache holds resolved posts. Posts never change after publish, so entries
// never go stale.
type Cache interface {
	Get(ctx context.Context, key string) (Post, bool)
	Add(ctx context.Context, p Post)
}

// Store publishes and reads posts.
type Store struct {
	client   store.Client
	codec    rowkey.Codec
	cache    Cache
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time

	mu   sync.Mutex
	last int64
}

// Option configures a Store.
type Option func(*Store)

// WithCache resolves Get through c.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithClock replaces the publish clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the location calendar days are interpreted in. Default: UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.location = loc }
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a Store.
func NewStore(client store.Client, codec rowkey.Codec, opts ...Option) *Store {
	s := &Store{
		client:   client,
		codec:    codec,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.location == nil {
		s.location = time.UTC
	}
	return s
}

// nextTimestamp returns the current time in milliseconds, bumped past the
// last value issued so two posts from this process never share a key.
func (s *Store) nextTimestamp() int64 {
	ts := s.now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}

// Publish writes a post in a single multi-column request and returns its key
// and the publish timestamp used for every cell.
func (s *Store) Publish(ctx context.Context, authorID, title, content string, image []byte) (string, int64, error) {
	if authorID == "" {
		return "", 0, fmt.Errorf("%w: empty author id", rowkey.ErrInvalidArgument)
	}
	ts := s.nextTimestamp()
	key, err := s.codec.PostKey(authorID, ts)
	if err != nil {
		return "", 0, err
	}

	err = s.client.Put(ctx, Table,
		store.Put{Row: key, Family: Family, Qualifier: ColTitle, Timestamp: ts, Value: []byte(title)},
		store.Put{Row: key, Family: Family, Qualifier: ColContent, Timestamp: ts, Value: []byte(content)},
		store.Put{Row: key, Family: Family, Qualifier: ColImage, Timestamp: ts, Value: image},
		store.Put{Row: key, Family: Family, Qualifier: ColUserID, Timestamp: ts, Value: []byte(authorID)},
	)
	if err != nil {
		return "", 0, fmt.Errorf("publish %s: %w", key, err)
	}
	return key, ts, nil
}

// Get reads one post. A missing post returns store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Post, error) {
	if key == "" {
		return Post{}, fmt.Errorf("%w: empty post key", rowkey.ErrInvalidArgument)
	}
	if s.cache != nil {
		if p, ok := s.cache.Get(ctx, key); ok {
			return p, nil
		}
	}

	row, err := s.client.GetRow(ctx, Table, key, store.GetOptions{Family: Family})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Post{}, fmt.Errorf("post %s: %w", key, store.ErrNotFound)
		}
		return Post{}, fmt.Errorf("get post %s: %w", key, err)
	}
	p := fromRow(row)
	if p.AuthorID == "" {
		// A row without an author cell is an incomplete write.
		return Post{}, fmt.Errorf("post %s: %w", key, store.ErrNotFound)
	}
	if s.cache != nil {
		s.cache.Add(ctx, p)
	}
	return p, nil
}

// ScanRecentByAuthor returns up to limit of the author's newest posts, newest first.
func (s *Store) ScanRecentByAuthor(ctx context.Context, authorID string, limit int) ([]Ref, error) {
	prefix, err := s.codec.PostPrefix(authorID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	// The userid filter drops authors whose id extends this one ("u1" vs "u1_x").
	rows, err := s.client.Scan(ctx, Table, store.Scan{
		Prefix:      prefix,
		Columns:     []store.Column{{Family: Family, Qualifier: ColUserID}},
		ValueEquals: &store.ValueFilter{Family: Family, Qualifier: ColUserID, Value: []byte(authorID)},
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("scan posts of %s: %w", authorID, err)
	}

	refs := make([]Ref, 0, len(rows))
	for _, row := range rows {
		_, ts, err := rowkey.ParsePostKey(row.Key)
		if err != nil {
			s.logger.Warn("skipping malformed post key",
				"key", row.Key,
				"error", err,
			)
			continue
		}
		refs = append(refs, Ref{Key: row.Key, Timestamp: ts})
	}
	return refs, nil
}

// ScanByAuthorAndDateWithTitle returns the author's posts published on day
// ("yyyyMMdd") whose title equals title exactly, newest first.
func (s *Store) ScanByAuthorAndDateWithTitle(ctx context.Context, authorID, day, title string) ([]Post, error) {
	if authorID == "" {
		return nil, fmt.Errorf("%w: empty author id", rowkey.ErrInvalidArgument)
	}
	d, err := rowkey.ParseDay(day, s.location)
	if err != nil {
		return nil, err
	}
	start, end, err := s.codec.DayRange(authorID, d)
	if err != nil {
		return nil, err
	}

	rows, err := s.client.Scan(ctx, Table, store.Scan{
		Start:       start,
		End:         end,
		ValueEquals: &store.ValueFilter{Family: Family, Qualifier: ColTitle, Value: []byte(title)},
	})
	if err != nil {
		return nil, fmt.Errorf("scan posts of %s on %s: %w", authorID, day, err)
	}

	posts := make([]Post, 0, len(rows))
	for _, row := range rows {
		p := fromRow(row)
		if p.AuthorID != authorID {
			continue
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func fromRow(row store.Row) Post {
	p := Post{Key: row.Key}
	for _, c := range row.Cells {
		if c.Family != Family {
			continue
		}
		switch c.Qualifier {
		case ColTitle:
			p.Title = string(c.Value)
		case ColContent:
			p.Content = string(c.Value)
		case ColImage:
			if len(c.Value) > 0 {
				p.Image = c.Value
			}
		case ColUserID:
			p.AuthorID = string(c.Value)
			p.Timestamp = c.Timestamp
		}
	}
	if p.Timestamp == 0 {
		if _, ts, err := rowkey.ParsePostKey(row.Key); err == nil {
			p.Timestamp = ts
		}
	}
	return p
}
