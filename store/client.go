package store

import "context"

// Client is the capability surface of the sorted wide-column store.
// Implementations are safe for concurrent use.
type Client interface {
	// Put applies a batch of independent single-cell writes. When only some
	// are applied the error is a *BatchError naming the failed indexes.
	Put(ctx context.Context, table string, puts ...Put) error

	// Delete applies a batch of independent cell deletes. Partial failure is
	// reported as for Put.
	Delete(ctx context.Context, table string, deletes ...Delete) error

	// GetRow reads one row. A row without cells returns ErrNotFound.
	GetRow(ctx context.Context, table, row string, opts GetOptions) (Row, error)

	// Scan reads a key range in ascending key order.
	Scan(ctx context.Context, table string, scan Scan) ([]Row, error)

	// EnsureTable creates the table when it does not exist and records its
	// family retention. It reports whether the table was created.
	EnsureTable(ctx context.Context, spec TableSpec) (bool, error)

	// Close releases the client.
	Close() error
}
