// Package timeline materializes per-user timelines and reads them back.
//
// A viewer's timeline is one row keyed by the viewer. Each followed author
// owns one cell of that row; every version of the cell is a pointer to one of
// the author's posts, versioned by the post's publish time. The table keeps
// only the newest Versions pointers per author.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/ripple/post"
	"github.com/jacentio/ripple/rowkey"
	"github.com/jacentio/ripple/store"
)

const (
	// Table is the materialized timeline table.
	Table = "t_user_weibo_list"

	// Family holds one cell per followed author.
	Family = "cf1"

	// Versions is the number of pointers retained per (viewer, author).
	Versions = 100
)

// TableSpec declares the timeline table.
var TableSpec = store.TableSpec{
	Name:     Table,
	Families: []store.FamilySpec{{Name: Family, MaxVersions: Versions}},
}

// FollowerLister lists the followers of a user.
type FollowerLister interface {
	Followers(ctx context.Context, userID string) ([]string, error)
}

// RecentScanner lists an author's newest posts.
type RecentScanner interface {
	ScanRecentByAuthor(ctx context.Context, authorID string, limit int) ([]post.Ref, error)
}

// Result reports how many timeline writes an operation attempted and which
// targets were not written: follower ids for FanOut, post keys for Backfill.
type Result struct {
	Attempted int
	Delivered int
	Failed    []string
}

// Partial reports whether some writes failed.
func (r Result) Partial() bool {
	return len(r.Failed) > 0
}

// Engine writes post pointers into timelines.
type Engine struct {
	client    store.Client
	codec     rowkey.Codec
	followers FollowerLister
	posts     RecentScanner
	config    Config
}

// NewEngine creates an Engine.
func NewEngine(client store.Client, codec rowkey.Codec, followers FollowerLister, posts RecentScanner, config Config) *Engine {
	config.validate()
	return &Engine{
		client:    client,
		codec:     codec,
		followers: followers,
		posts:     posts,
		config:    config,
	}
}

// pointer is one timeline write: viewer row, author cell, post pointer.
type pointer struct {
	target string
	put    store.Put
}

func (e *Engine) pointerTo(viewerID, authorID, postKey string, ts int64) (store.Put, error) {
	row, err := e.codec.UserKey(viewerID)
	if err != nil {
		return store.Put{}, err
	}
	return store.Put{
		Row:       row,
		Family:    Family,
		Qualifier: authorID,
		Timestamp: ts,
		Value:     []byte(postKey),
	}, nil
}

// FanOut pushes a pointer to postKey into the timeline of every follower of
// authorID. Failed batches are reported in the Result; an error is returned
// only when the followers cannot be listed.
func (e *Engine) FanOut(ctx context.Context, authorID, postKey string, ts int64) (Result, error) {
	if authorID == "" || postKey == "" {
		return Result{}, fmt.Errorf("%w: empty author id or post key", rowkey.ErrInvalidArgument)
	}
	if ts <= 0 {
		return Result{}, fmt.Errorf("%w: non-positive post timestamp %d", rowkey.ErrInvalidArgument, ts)
	}

	followers, err := e.followers.Followers(ctx, authorID)
	if err != nil {
		return Result{}, fmt.Errorf("list followers of %s: %w", authorID, err)
	}
	if len(followers) == 0 {
		return Result{}, nil
	}

	pointers := make([]pointer, 0, len(followers))
	for _, f := range followers {
		put, err := e.pointerTo(f, authorID, postKey, ts)
		if err != nil {
			return Result{}, err
		}
		pointers = append(pointers, pointer{target: f, put: put})
	}

	result := e.write(ctx, pointers)
	if result.Partial() {
		e.config.Logger.Warn("fan-out partially delivered",
			"fanoutID", uuid.NewString(),
			"author", authorID,
			"post", postKey,
			"attempted", result.Attempted,
			"delivered", result.Delivered,
			"failed", len(result.Failed),
		)
	}
	return result, nil
}

// write submits pointers in batches of BatchSize, at most Concurrency at a time.
func (e *Engine) write(ctx context.Context, pointers []pointer) Result {
	var mu sync.Mutex
	var failed []string

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for start := 0; start < len(pointers); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(pointers) {
			end = len(pointers)
		}
		batch := pointers[start:end]

		g.Go(func() error {
			puts := make([]store.Put, len(batch))
			for i, p := range batch {
				puts[i] = p.put
			}
			err := e.client.Put(ctx, Table, puts...)
			idxs := store.FailedIndexes(err, len(batch))
			if len(idxs) == 0 {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, i := range idxs {
				failed = append(failed, batch[i].target)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(failed)
	return Result{
		Attempted: len(pointers),
		Delivered: len(pointers) - len(failed),
		Failed:    failed,
	}
}

// Backfill seeds followerID's timeline with up to BackfillLimit of
// followeeID's newest posts.
func (e *Engine) Backfill(ctx context.Context, followerID, followeeID string) (Result, error) {
	if _, err := e.codec.UserKey(followerID); err != nil {
		return Result{}, err
	}
	refs, err := e.posts.ScanRecentByAuthor(ctx, followeeID, e.config.BackfillLimit)
	if err != nil {
		return Result{}, fmt.Errorf("scan recent posts of %s: %w", followeeID, err)
	}
	if len(refs) == 0 {
		return Result{}, nil
	}

	pointers := make([]pointer, 0, len(refs))
	for _, ref := range refs {
		put, err := e.pointerTo(followerID, followeeID, ref.Key, ref.Timestamp)
		if err != nil {
			return Result{}, err
		}
		pointers = append(pointers, pointer{target: ref.Key, put: put})
	}

	result := e.write(ctx, pointers)
	if result.Partial() {
		e.config.Logger.Warn("backfill partially delivered",
			"follower", followerID,
			"followee", followeeID,
			"attempted", result.Attempted,
			"failed", len(result.Failed),
		)
	}
	return result, nil
}

// Purge removes every pointer to followeeID's posts from followerID's timeline.
func (e *Engine) Purge(ctx context.Context, followerID, followeeID string) error {
	row, err := e.codec.UserKey(followerID)
	if err != nil {
		return err
	}
	if followeeID == "" {
		return fmt.Errorf("%w: empty followee id", rowkey.ErrInvalidArgument)
	}
	err = e.client.Delete(ctx, Table, store.Delete{
		Row:         row,
		Family:      Family,
		Qualifier:   followeeID,
		AllVersions: true,
	})
	if err != nil {
		return fmt.Errorf("purge %s from timeline of %s: %w", followeeID, followerID, err)
	}
	return nil
}
