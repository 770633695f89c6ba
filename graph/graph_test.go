package graph_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jacentio/ripple/graph"
	"github.com/jacentio/ripple/internal/storetest"
	"github.com/jacentio/ripple/rowkey"
	"github.com/jacentio/ripple/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newManager(client store.Client) *graph.Manager {
	return graph.NewManager(client, rowkey.New(rowkey.DefaultPartitions), discard)
}

func TestFollow(t *testing.T) {
	ctx := context.Background()
	m := newManager(store.NewMemory(graph.TableSpec))

	if err := m.Follow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if err := m.Follow(ctx, "carol", "bob"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	followers, err := m.Followers(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alice", "carol"}, followers); diff != "" {
		t.Errorf("followers mismatch (-want +got):\n%s", diff)
	}

	followees, err := m.Followees(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"bob"}, followees); diff != "" {
		t.Errorf("followees mismatch (-want +got):\n%s", diff)
	}
}

func TestFollow_WritesMarker(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(graph.TableSpec)
	m := newManager(mem)
	_ = m.Follow(ctx, "alice", "bob")

	row, err := mem.GetRow(ctx, graph.Table, "0_alice", store.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	v, ok := row.Value(graph.FolloweesFamily, "bob")
	if !ok || string(v) != graph.Marker {
		t.Errorf("expected marker %q, got %q", graph.Marker, v)
	}

	row, err = mem.GetRow(ctx, graph.Table, "4_bob", store.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := row.Value(graph.FollowersFamily, "alice"); !ok {
		t.Error("expected backward half under followers family")
	}
}

func TestFollow_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(store.NewMemory(graph.TableSpec))

	for i := 0; i < 3; i++ {
		if err := m.Follow(ctx, "alice", "bob"); err != nil {
			t.Fatal(err)
		}
	}
	followers, _ := m.Followers(ctx, "bob")
	if diff := cmp.Diff([]string{"alice"}, followers); diff != "" {
		t.Errorf("followers mismatch (-want +got):\n%s", diff)
	}
}

func TestUnfollow(t *testing.T) {
	ctx := context.Background()
	m := newManager(store.NewMemory(graph.TableSpec))
	_ = m.Follow(ctx, "alice", "bob")
	_ = m.Follow(ctx, "alice", "carol")

	if err := m.Unfollow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}

	followers, _ := m.Followers(ctx, "bob")
	if len(followers) != 0 {
		t.Errorf("expected no followers, got %v", followers)
	}
	followees, _ := m.Followees(ctx, "alice")
	if diff := cmp.Diff([]string{"carol"}, followees); diff != "" {
		t.Errorf("followees mismatch (-want +got):\n%s", diff)
	}
}

func TestUnfollow_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(store.NewMemory(graph.TableSpec))

	if err := m.Unfollow(ctx, "alice", "bob"); err != nil {
		t.Errorf("expected no error for missing edge, got %v", err)
	}
	_ = m.Follow(ctx, "alice", "bob")
	_ = m.Unfollow(ctx, "alice", "bob")
	if err := m.Unfollow(ctx, "alice", "bob"); err != nil {
		t.Errorf("expected no error on repeat, got %v", err)
	}
}

func TestList_UnknownUser(t *testing.T) {
	m := newManager(store.NewMemory(graph.TableSpec))

	followers, err := m.Followers(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if followers == nil || len(followers) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", followers)
	}
}

func TestInvalidArgument(t *testing.T) {
	ctx := context.Background()
	client := storetest.NewFaulty(store.NewMemory(graph.TableSpec))
	m := newManager(client)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"follow empty follower", func() error { return m.Follow(ctx, "", "bob") }},
		{"follow empty followee", func() error { return m.Follow(ctx, "alice", "") }},
		{"unfollow empty", func() error { return m.Unfollow(ctx, "", "") }},
		{"followers empty", func() error { _, err := m.Followers(ctx, ""); return err }},
		{"followees empty", func() error { _, err := m.Followees(ctx, ""); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, rowkey.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
	if client.PutCalls() != 0 || client.GetCalls() != 0 {
		t.Error("expected no store calls for invalid arguments")
	}
}

func TestFollow_PartialEdge(t *testing.T) {
	tests := []struct {
		name             string
		failFamily       string
		expectedForward  bool
		expectedBackward bool
	}{
		{"backward fails", graph.FollowersFamily, true, false},
		{"forward fails", graph.FolloweesFamily, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			client := storetest.NewFaulty(store.NewMemory(graph.TableSpec))
			client.FailPuts(func(_ string, p store.Put) bool { return p.Family == tt.failFamily })
			m := newManager(client)

			err := m.Follow(ctx, "alice", "bob")

			var partial *graph.PartialEdgeError
			if !errors.As(err, &partial) {
				t.Fatalf("expected *PartialEdgeError, got %v", err)
			}
			if partial.ForwardApplied != tt.expectedForward || partial.BackwardApplied != tt.expectedBackward {
				t.Errorf("expected forward=%v backward=%v, got %+v", tt.expectedForward, tt.expectedBackward, partial)
			}
			if !errors.Is(err, store.ErrUnavailable) {
				t.Error("expected error to wrap ErrUnavailable")
			}

			// Retrying the whole edge repairs it.
			client.FailPuts(nil)
			if err := m.Follow(ctx, "alice", "bob"); err != nil {
				t.Fatal(err)
			}
			followers, _ := m.Followers(ctx, "bob")
			followees, _ := m.Followees(ctx, "alice")
			if len(followers) != 1 || len(followees) != 1 {
				t.Errorf("expected repaired edge, got followers=%v followees=%v", followers, followees)
			}
		})
	}
}

func TestUnfollow_PartialEdge(t *testing.T) {
	ctx := context.Background()
	client := storetest.NewFaulty(store.NewMemory(graph.TableSpec))
	m := newManager(client)
	_ = m.Follow(ctx, "alice", "bob")

	client.FailDeletes(func(_ string, d store.Delete) bool { return d.Family == graph.FollowersFamily })
	err := m.Unfollow(ctx, "alice", "bob")

	var partial *graph.PartialEdgeError
	if !errors.As(err, &partial) {
		t.Fatalf("expected *PartialEdgeError, got %v", err)
	}
	if !partial.ForwardApplied || partial.BackwardApplied {
		t.Errorf("unexpected halves %+v", partial)
	}
	followers, _ := m.Followers(ctx, "bob")
	if diff := cmp.Diff([]string{"alice"}, followers); diff != "" {
		t.Errorf("expected backward half to remain (-want +got):\n%s", diff)
	}
}

func TestFollow_TotalFailure(t *testing.T) {
	client := storetest.NewFaulty(store.NewMemory(graph.TableSpec))
	client.FailPuts(func(string, store.Put) bool { return true })
	m := newManager(client)

	err := m.Follow(context.Background(), "alice", "bob")
	var partial *graph.PartialEdgeError
	if errors.As(err, &partial) {
		t.Error("expected a plain error when neither half applied")
	}
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestFollowers_StoreFailure(t *testing.T) {
	client := storetest.NewFaulty(store.NewMemory(graph.TableSpec))
	client.FailGets(func(string, string) bool { return true })
	m := newManager(client)

	if _, err := m.Followers(context.Background(), "bob"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
