package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a row has no cells (or none in the requested family).
	ErrNotFound = errors.New("ripple: row not found")

	// ErrTableNotFound is returned when a table has not been provisioned.
	ErrTableNotFound = errors.New("ripple: table not found")

	// ErrUnavailable wraps every transport or store-side failure.
	ErrUnavailable = errors.New("ripple: store unavailable")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("ripple: store client closed")
)

// BatchError reports a batched request in which some writes were not applied.
// Failed holds indexes into the submitted batch. Applied writes are valid,
// idempotent states; resubmitting the failed ones is safe.
type BatchError struct {
	Total  int
	Failed []int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("ripple: %d of %d batched writes failed: %v", len(e.Failed), e.Total, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Partial reports whether at least one write of the batch was applied.
func (e *BatchError) Partial() bool {
	return len(e.Failed) < e.Total
}

// FailedIndexes returns the indexes of the writes that failed in a batch of
// size total. A nil err means none failed; an error other than *BatchError
// means all of them did.
func FailedIndexes(err error, total int) []int {
	if err == nil {
		return nil
	}
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Failed
	}
	all := make([]int, total)
	for i := range all {
		all[i] = i
	}
	return all
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
