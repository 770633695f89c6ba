// Package graph maintains the follow graph as two adjacency rows per user:
// followees (who the user follows) and followers (who follows the user).
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jacentio/ripple/rowkey"
	"github.com/jacentio/ripple/store"
)

const (
	// Table is the relations table.
	Table = "t_user_relations"

	// FolloweesFamily holds the forward half of an edge, keyed by follower.
	FolloweesFamily = "cf1"

	// FollowersFamily holds the backward half of an edge, keyed by followee.
	FollowersFamily = "cf2"

	// Marker is the payload of every edge cell.
	Marker = "default_value"
)

// TableSpec declares the relations table.
var TableSpec = store.TableSpec{
	Name: Table,
	Families: []store.FamilySpec{
		{Name: FolloweesFamily, MaxVersions: 1},
		{Name: FollowersFamily, MaxVersions: 1},
	},
}

// PartialEdgeError reports a follow or unfollow in which only one half of the
// edge was applied. Retrying the whole operation is safe.
type PartialEdgeError struct {
	Follower        string
	Followee        string
	ForwardApplied  bool
	BackwardApplied bool
	Err             error
}

func (e *PartialEdgeError) Error() string {
	return fmt.Sprintf("ripple: edge %s -> %s partially applied (forward=%t, backward=%t): %v",
		e.Follower, e.Followee, e.ForwardApplied, e.BackwardApplied, e.Err)
}

func (e *PartialEdgeError) Unwrap() error {
	return e.Err
}

// Manager reads and writes follow edges.
type Manager struct {
	client store.Client
	codec  rowkey.Codec
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(client store.Client, codec rowkey.Codec, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client: client,
		codec:  codec,
		logger: logger,
	}
}

// edgeKeys validates an edge and returns the follower and followee row keys.
func (m *Manager) edgeKeys(followerID, followeeID string) (string, string, error) {
	followerRow, err := m.codec.UserKey(followerID)
	if err != nil {
		return "", "", fmt.Errorf("follower: %w", err)
	}
	followeeRow, err := m.codec.UserKey(followeeID)
	if err != nil {
		return "", "", fmt.Errorf("followee: %w", err)
	}
	return followerRow, followeeRow, nil
}

// Follow writes both halves of follower -> followee in one batched request.
// Re-following overwrites the same cells.
func (m *Manager) Follow(ctx context.Context, followerID, followeeID string) error {
	followerRow, followeeRow, err := m.edgeKeys(followerID, followeeID)
	if err != nil {
		return err
	}

	err = m.client.Put(ctx, Table,
		store.Put{Row: followerRow, Family: FolloweesFamily, Qualifier: followeeID, Value: []byte(Marker)},
		store.Put{Row: followeeRow, Family: FollowersFamily, Qualifier: followerID, Value: []byte(Marker)},
	)
	return m.edgeResult("follow", followerID, followeeID, err)
}

// Unfollow deletes both halves of follower -> followee in one batched request.
// Unfollowing a missing edge is a no-op.
func (m *Manager) Unfollow(ctx context.Context, followerID, followeeID string) error {
	followerRow, followeeRow, err := m.edgeKeys(followerID, followeeID)
	if err != nil {
		return err
	}

	err = m.client.Delete(ctx, Table,
		store.Delete{Row: followerRow, Family: FolloweesFamily, Qualifier: followeeID, AllVersions: true},
		store.Delete{Row: followeeRow, Family: FollowersFamily, Qualifier: followerID, AllVersions: true},
	)
	return m.edgeResult("unfollow", followerID, followeeID, err)
}

// edgeResult maps the result of a two-write batch to an edge error.
func (m *Manager) edgeResult(op, followerID, followeeID string, err error) error {
	if err == nil {
		return nil
	}
	failed := store.FailedIndexes(err, 2)
	if len(failed) != 1 {
		return fmt.Errorf("%s: %w", op, err)
	}

	partial := &PartialEdgeError{
		Follower:        followerID,
		Followee:        followeeID,
		ForwardApplied:  failed[0] != 0,
		BackwardApplied: failed[0] != 1,
		Err:             err,
	}
	m.logger.Warn("edge partially applied",
		"op", op,
		"follower", followerID,
		"followee", followeeID,
		"forwardApplied", partial.ForwardApplied,
		"backwardApplied", partial.BackwardApplied,
		"error", err,
	)
	return partial
}

// Followers returns the ids following userID, sorted.
func (m *Manager) Followers(ctx context.Context, userID string) ([]string, error) {
	return m.list(ctx, userID, FollowersFamily)
}

// Followees returns the ids userID follows, sorted.
func (m *Manager) Followees(ctx context.Context, userID string) ([]string, error) {
	return m.list(ctx, userID, FolloweesFamily)
}

func (m *Manager) list(ctx context.Context, userID, family string) ([]string, error) {
	row, err := m.codec.UserKey(userID)
	if err != nil {
		return nil, err
	}
	r, err := m.client.GetRow(ctx, Table, row, store.GetOptions{Family: family})
	if errors.Is(err, store.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s of %s: %w", family, userID, err)
	}

	ids := r.Qualifiers(family)
	sort.Strings(ids)
	return ids, nil
}
