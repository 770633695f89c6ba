package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Client. Rows are kept in a sorted key index per
// table; family retention is enforced on every write.
type Memory struct {
	mu       sync.RWMutex
	registry *Registry
	tables   map[string]*memTable
	now      func() time.Time
	closed   bool
}

type cellID struct {
	family    string
	qualifier string
}

type memTable struct {
	keys []string
	rows map[string]map[cellID][]Cell
}

// NewMemory creates a Memory client with the given tables already provisioned.
func NewMemory(tables ...TableSpec) *Memory {
	m := &Memory{
		registry: NewRegistry(),
		tables:   make(map[string]*memTable),
		now:      time.Now,
	}
	for _, spec := range tables {
		m.createTable(spec)
	}
	return m
}

// SetClock replaces the clock used for writes with a zero timestamp.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Registry returns the table declarations.
func (m *Memory) Registry() *Registry {
	return m.registry
}

func (m *Memory) createTable(spec TableSpec) bool {
	m.registry.Register(spec)
	if _, ok := m.tables[spec.Name]; ok {
		return false
	}
	m.tables[spec.Name] = &memTable{rows: make(map[string]map[cellID][]Cell)}
	return true
}

// EnsureTable provisions a table if it does not exist.
func (m *Memory) EnsureTable(_ context.Context, spec TableSpec) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	return m.createTable(spec), nil
}

func (m *Memory) table(name string) (*memTable, error) {
	if m.closed {
		return nil, ErrClosed
	}
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// Put applies puts in order.
func (m *Memory) Put(ctx context.Context, table string, puts ...Put) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(table)
	if err != nil {
		return err
	}
	nowMillis := m.now().UnixMilli()
	for _, p := range puts {
		ts := p.Timestamp
		if ts == 0 {
			ts = nowMillis
		}
		id := cellID{p.Family, p.Qualifier}
		row, ok := t.rows[p.Row]
		if !ok {
			row = make(map[cellID][]Cell)
			t.rows[p.Row] = row
			t.insertKey(p.Row)
		}
		value := append([]byte(nil), p.Value...)
		row[id] = insertVersion(row[id], Cell{
			Family:    p.Family,
			Qualifier: p.Qualifier,
			Timestamp: ts,
			Value:     value,
		}, m.registry.MaxVersions(table, p.Family))
	}
	return nil
}

// insertVersion places c into versions (newest first), replacing a version
// with the same timestamp, and drops versions beyond maxVersions.
func insertVersion(versions []Cell, c Cell, maxVersions int) []Cell {
	i := sort.Search(len(versions), func(i int) bool {
		return versions[i].Timestamp <= c.Timestamp
	})
	if i < len(versions) && versions[i].Timestamp == c.Timestamp {
		versions[i] = c
	} else {
		versions = append(versions, Cell{})
		copy(versions[i+1:], versions[i:])
		versions[i] = c
	}
	if len(versions) > maxVersions {
		versions = versions[:maxVersions]
	}
	return versions
}

// Delete applies deletes in order.
func (m *Memory) Delete(ctx context.Context, table string, deletes ...Delete) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(table)
	if err != nil {
		return err
	}
	for _, d := range deletes {
		row, ok := t.rows[d.Row]
		if !ok {
			continue
		}
		id := cellID{d.Family, d.Qualifier}
		versions := row[id]
		if d.AllVersions || len(versions) <= 1 {
			delete(row, id)
		} else {
			row[id] = versions[1:]
		}
		if len(row) == 0 {
			delete(t.rows, d.Row)
			t.removeKey(d.Row)
		}
	}
	return nil
}

// GetRow reads one row.
func (m *Memory) GetRow(ctx context.Context, table, row string, opts GetOptions) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.table(table)
	if err != nil {
		return Row{}, err
	}
	cells := t.cells(row, opts.Family)
	if len(cells) == 0 {
		return Row{}, ErrNotFound
	}
	sortCells(cells)
	return Row{Key: row, Cells: limitVersions(cells, opts.MaxVersions)}, nil
}

// Scan reads a key range.
func (m *Memory) Scan(ctx context.Context, table string, scan Scan) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	if scan.empty() {
		return nil, nil
	}
	lo, _ := scan.bounds()

	var rows []Row
	for i := sort.SearchStrings(t.keys, lo); i < len(t.keys); i++ {
		key := t.keys[i]
		if !scan.inRange(key) {
			break
		}
		cells := t.cells(key, "")
		sortCells(cells)
		row := Row{Key: key, Cells: limitVersions(cells, 1)}
		if !scan.accepts(row) {
			continue
		}
		row, ok := scan.project(row)
		if !ok {
			continue
		}
		rows = append(rows, row)
		if scan.Limit > 0 && len(rows) >= scan.Limit {
			break
		}
	}
	return rows, nil
}

// Close marks the client closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// cells copies the cells of a row, optionally restricted to one family.
func (t *memTable) cells(row, family string) []Cell {
	var cells []Cell
	for id, versions := range t.rows[row] {
		if family != "" && id.family != family {
			continue
		}
		for _, c := range versions {
			c.Value = append([]byte(nil), c.Value...)
			cells = append(cells, c)
		}
	}
	return cells
}

func (t *memTable) insertKey(key string) {
	i := sort.SearchStrings(t.keys, key)
	t.keys = append(t.keys, "")
	copy(t.keys[i+1:], t.keys[i:])
	t.keys[i] = key
}

func (t *memTable) removeKey(key string) {
	i := sort.SearchStrings(t.keys, key)
	if i < len(t.keys) && t.keys[i] == key {
		t.keys = append(t.keys[:i], t.keys[i+1:]...)
	}
}
