// Package storetest provides store clients for tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jacentio/ripple/store"
)

// ErrInjected is the cause of every injected failure.
var ErrInjected = errors.New("injected failure")

// Faulty wraps a store.Client and fails selected operations. Writes in a
// batch that match FailPut or FailDelete are not applied and are reported in
// a *store.BatchError, the way a backend reports unprocessed items.
type Faulty struct {
	store.Client

	mu         sync.Mutex
	failPut    func(table string, p store.Put) bool
	failDelete func(table string, d store.Delete) bool
	failGet    func(table, row string) bool
	failScan   func(table string) bool
	puts       int
	gets       int
}

// NewFaulty wraps client. With no failure hooks set it behaves like client.
func NewFaulty(client store.Client) *Faulty {
	return &Faulty{Client: client}
}

// FailPuts makes puts matching fn fail.
func (f *Faulty) FailPuts(fn func(table string, p store.Put) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut = fn
}

// FailDeletes makes deletes matching fn fail.
func (f *Faulty) FailDeletes(fn func(table string, d store.Delete) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete = fn
}

// FailGets makes row reads matching fn fail with store.ErrUnavailable.
func (f *Faulty) FailGets(fn func(table, row string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGet = fn
}

// FailScans makes scans of matching tables fail with store.ErrUnavailable.
func (f *Faulty) FailScans(fn func(table string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failScan = fn
}

// PutCalls returns the number of Put requests issued.
func (f *Faulty) PutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// GetCalls returns the number of GetRow requests issued.
func (f *Faulty) GetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func injected(op string) error {
	return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, op, ErrInjected)
}

func (f *Faulty) Put(ctx context.Context, table string, puts ...store.Put) error {
	f.mu.Lock()
	f.puts++
	fail := f.failPut
	f.mu.Unlock()

	if fail == nil {
		return f.Client.Put(ctx, table, puts...)
	}
	var apply []store.Put
	var failed []int
	for i, p := range puts {
		if fail(table, p) {
			failed = append(failed, i)
			continue
		}
		apply = append(apply, p)
	}
	if len(apply) > 0 {
		if err := f.Client.Put(ctx, table, apply...); err != nil {
			return err
		}
	}
	return batchResult(len(puts), failed, injected("put"))
}

func (f *Faulty) Delete(ctx context.Context, table string, deletes ...store.Delete) error {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()

	if fail == nil {
		return f.Client.Delete(ctx, table, deletes...)
	}
	var apply []store.Delete
	var failed []int
	for i, d := range deletes {
		if fail(table, d) {
			failed = append(failed, i)
			continue
		}
		apply = append(apply, d)
	}
	if len(apply) > 0 {
		if err := f.Client.Delete(ctx, table, apply...); err != nil {
			return err
		}
	}
	return batchResult(len(deletes), failed, injected("delete"))
}

func (f *Faulty) GetRow(ctx context.Context, table, row string, opts store.GetOptions) (store.Row, error) {
	f.mu.Lock()
	f.gets++
	fail := f.failGet
	f.mu.Unlock()

	if fail != nil && fail(table, row) {
		return store.Row{}, injected("get row")
	}
	return f.Client.GetRow(ctx, table, row, opts)
}

func (f *Faulty) Scan(ctx context.Context, table string, scan store.Scan) ([]store.Row, error) {
	f.mu.Lock()
	fail := f.failScan
	f.mu.Unlock()

	if fail != nil && fail(table) {
		return nil, injected("scan")
	}
	return f.Client.Scan(ctx, table, scan)
}

func batchResult(total int, failed []int, err error) error {
	switch len(failed) {
	case 0:
		return nil
	case total:
		return err
	default:
		return &store.BatchError{Total: total, Failed: failed, Err: err}
	}
}
