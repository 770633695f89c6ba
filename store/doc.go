// Package store is the seam between the feed engine and a sorted, wide-column,
// multi-version key-value store.
//
// Rows are addressed by string keys and sorted ascending. A row holds cells
// grouped into column families; each cell is identified by (family, qualifier)
// and keeps up to the family's MaxVersions timestamped versions, newest first.
// Writing past that bound drops the oldest version, which makes a cell usable
// as a bounded ring buffer.
//
// # Client
//
// All engine code talks to the [Client] interface:
//
//	type Client interface {
//	    Put(ctx, table, ...Put) error
//	    Delete(ctx, table, ...Delete) error
//	    GetRow(ctx, table, row, GetOptions) (Row, error)
//	    Scan(ctx, table, Scan) ([]Row, error)
//	    EnsureTable(ctx, TableSpec) (bool, error)
//	    Close() error
//	}
//
// Two implementations are provided:
//
//   - [Memory] keeps everything in process. It is safe for concurrent use and
//     backs tests and local runs.
//   - [Dynamo] maps cells onto DynamoDB items. Rows are spread over
//     [DynamoConfig].NumShards buckets; scans fan out over every bucket.
//
// A Client is constructed once at service start, shared by concurrent
// operations, and closed at service stop.
//
// # Errors
//
//   - [ErrNotFound] - row has no cells
//   - [ErrTableNotFound] - table was never provisioned
//   - [ErrUnavailable] - transport or store-side failure
//   - [BatchError] - some writes of a batch were not applied
package store
