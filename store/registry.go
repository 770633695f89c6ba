package store

import "sync"

// DefaultMaxVersions is the retention of families that were never declared.
const DefaultMaxVersions = 1

// Registry holds the declared tables and the version retention of their families.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]TableSpec
	byName map[string]map[string]int
}

// NewRegistry creates a Registry holding the given tables.
func NewRegistry(tables ...TableSpec) *Registry {
	r := &Registry{
		tables: make(map[string]TableSpec),
		byName: make(map[string]map[string]int),
	}
	for _, t := range tables {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a table declaration.
func (r *Registry) Register(spec TableSpec) {
	families := make(map[string]int, len(spec.Families))
	for _, f := range spec.Families {
		v := f.MaxVersions
		if v < 1 {
			v = DefaultMaxVersions
		}
		families[f.Name] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[spec.Name] = spec
	r.byName[spec.Name] = families
}

// Table returns the declaration of a table.
func (r *Registry) Table(name string) (TableSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tables[name]
	return spec, ok
}

// MaxVersions returns the number of versions a cell of table/family retains.
func (r *Registry) MaxVersions(table, family string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.byName[table][family]; ok {
		return v
	}
	return DefaultMaxVersions
}

// Tables returns all declared table names.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	return names
}
