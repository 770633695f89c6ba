package timeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/ripple/post"
	"github.com/jacentio/ripple/rowkey"
	"github.com/jacentio/ripple/store"
)

// PostSource resolves pointers and serves date lookups.
type PostSource interface {
	Get(ctx context.Context, key string) (post.Post, error)
	ScanByAuthorAndDateWithTitle(ctx context.Context, authorID, day, title string) ([]post.Post, error)
}

// Reader reads materialized timelines.
type Reader struct {
	client store.Client
	codec  rowkey.Codec
	posts  PostSource
	config Config
}

// NewReader creates a Reader. Only Concurrency and Logger of config apply.
func NewReader(client store.Client, codec rowkey.Codec, posts PostSource, config Config) *Reader {
	config.validate()
	return &Reader{
		client: client,
		codec:  codec,
		posts:  posts,
		config: config,
	}
}

// Timeline returns the newest opts.TopN posts of viewerID's timeline, newest
// first. Pointers to posts that no longer resolve are dropped.
func (r *Reader) Timeline(ctx context.Context, viewerID string, opts ReadOptions) ([]post.Post, error) {
	opts.validate()
	rowKey, err := r.codec.UserKey(viewerID)
	if err != nil {
		return nil, err
	}

	row, err := r.client.GetRow(ctx, Table, rowKey, store.GetOptions{
		Family:      Family,
		MaxVersions: opts.MaxVersionsPerAuthor,
	})
	if errors.Is(err, store.ErrNotFound) {
		return []post.Post{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read timeline of %s: %w", viewerID, err)
	}

	entries := mergeTop(streams(row), opts.TopN)
	return r.resolve(ctx, viewerID, entries)
}

// resolve looks up every pointer concurrently and keeps the merge order.
func (r *Reader) resolve(ctx context.Context, viewerID string, entries []entry) ([]post.Post, error) {
	resolved := make([]post.Post, len(entries))
	found := make([]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for i, e := range entries {
		g.Go(func() error {
			p, err := r.posts.Get(gctx, e.postKey)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolve %s: %w", e.postKey, err)
			}
			resolved[i] = p
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	posts := make([]post.Post, 0, len(entries))
	dropped := 0
	for i, ok := range found {
		if !ok {
			dropped++
			continue
		}
		posts = append(posts, resolved[i])
	}
	if dropped > 0 {
		r.config.Logger.Debug("dropped dangling timeline pointers",
			"viewer", viewerID,
			"dropped", dropped,
		)
	}
	return posts, nil
}

// PostsByDate returns userID's posts published on day ("yyyyMMdd") titled title.
func (r *Reader) PostsByDate(ctx context.Context, userID, day, title string) ([]post.Post, error) {
	return r.posts.ScanByAuthorAndDateWithTitle(ctx, userID, day, title)
}

