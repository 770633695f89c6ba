package store

import "sort"

// Put writes one cell version. A zero Timestamp means "now" in store milliseconds.
// Writing the same (row, family, qualifier, timestamp) twice overwrites.
type Put struct {
	Row       string
	Family    string
	Qualifier string
	Timestamp int64
	Value     []byte
}

// Delete removes the newest version of a cell, or every version when AllVersions is set.
// Deleting a missing cell is a no-op.
type Delete struct {
	Row         string
	Family      string
	Qualifier   string
	AllVersions bool
}

// Cell is one version of a cell as returned by reads.
type Cell struct {
	Family    string
	Qualifier string
	Timestamp int64
	Value     []byte
}

// Row is a row key and its cells ordered by family, qualifier, then timestamp descending.
type Row struct {
	Key   string
	Cells []Cell
}

// Latest returns the newest version of a cell.
func (r Row) Latest(family, qualifier string) (Cell, bool) {
	for _, c := range r.Cells {
		if c.Family == family && c.Qualifier == qualifier {
			return c, true
		}
	}
	return Cell{}, false
}

// Value returns the newest value of a cell.
func (r Row) Value(family, qualifier string) ([]byte, bool) {
	c, ok := r.Latest(family, qualifier)
	return c.Value, ok
}

// Versions returns every returned version of a cell, newest first.
func (r Row) Versions(family, qualifier string) []Cell {
	var out []Cell
	for _, c := range r.Cells {
		if c.Family == family && c.Qualifier == qualifier {
			out = append(out, c)
		}
	}
	return out
}

// Qualifiers returns the distinct qualifiers present in family, in row order.
func (r Row) Qualifiers(family string) []string {
	var out []string
	for _, c := range r.Cells {
		if c.Family != family {
			continue
		}
		if n := len(out); n > 0 && out[n-1] == c.Qualifier {
			continue
		}
		out = append(out, c.Qualifier)
	}
	return out
}

// GetOptions narrows a row read.
type GetOptions struct {
	// Family restricts the read to one column family. Empty reads all families.
	Family string

	// MaxVersions is the number of versions returned per cell. Values <= 0 mean 1.
	MaxVersions int
}

// Column names one cell of a row.
type Column struct {
	Family    string
	Qualifier string
}

// ValueFilter keeps only rows whose column exists and whose newest value
// equals Value byte-for-byte.
type ValueFilter struct {
	Family    string
	Qualifier string
	Value     []byte
}

// Scan describes a range read. Rows are returned ascending by key with the
// newest version of each cell.
type Scan struct {
	// Start is the inclusive lower bound. Empty means the first row.
	Start string

	// End is the exclusive upper bound. Empty means past the last row.
	End string

	// Prefix keeps only rows whose key starts with Prefix.
	Prefix string

	// Columns projects the returned cells. Empty returns every cell.
	Columns []Column

	// ValueEquals is an optional server-side value filter.
	ValueEquals *ValueFilter

	// Limit caps the number of rows returned (0 = no limit).
	Limit int
}

// FamilySpec declares a column family and how many versions each of its cells retains.
type FamilySpec struct {
	Name        string
	MaxVersions int
}

// TableSpec declares a table for provisioning.
type TableSpec struct {
	Name     string
	Families []FamilySpec

	// SplitKeys pre-split the table into partitions where the backend supports it.
	SplitKeys []string
}

// sortCells orders cells by family, qualifier, then timestamp descending.
func sortCells(cells []Cell) {
	sort.SliceStable(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.Family != b.Family {
			return a.Family < b.Family
		}
		if a.Qualifier != b.Qualifier {
			return a.Qualifier < b.Qualifier
		}
		return a.Timestamp > b.Timestamp
	})
}

// limitVersions keeps at most maxVersions versions per cell of sorted cells.
func limitVersions(cells []Cell, maxVersions int) []Cell {
	if maxVersions <= 0 {
		maxVersions = 1
	}
	out := make([]Cell, 0, len(cells))
	count := 0
	for i, c := range cells {
		if i > 0 && c.Family == cells[i-1].Family && c.Qualifier == cells[i-1].Qualifier {
			count++
		} else {
			count = 0
		}
		if count < maxVersions {
			out = append(out, c)
		}
	}
	return out
}
