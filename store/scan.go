package store

import (
	"bytes"
	"strings"
)

// bounds returns the effective [lo, hi) key range of a scan, narrowing
// Start/End by Prefix. An empty hi means unbounded.
func (s Scan) bounds() (lo, hi string) {
	lo, hi = s.Start, s.End
	if s.Prefix == "" {
		return lo, hi
	}
	if s.Prefix > lo {
		lo = s.Prefix
	}
	if pe := prefixEnd(s.Prefix); pe != "" && (hi == "" || pe < hi) {
		hi = pe
	}
	return lo, hi
}

// empty reports whether the range cannot contain any row.
func (s Scan) empty() bool {
	lo, hi := s.bounds()
	return hi != "" && lo >= hi
}

// inRange reports whether key falls within the scan range.
func (s Scan) inRange(key string) bool {
	lo, hi := s.bounds()
	if key < lo {
		return false
	}
	if hi != "" && key >= hi {
		return false
	}
	return strings.HasPrefix(key, s.Prefix)
}

// accepts applies the value filter to a row holding the newest version of each cell.
func (s Scan) accepts(row Row) bool {
	if s.ValueEquals == nil {
		return true
	}
	f := s.ValueEquals
	v, ok := row.Value(f.Family, f.Qualifier)
	return ok && bytes.Equal(v, f.Value)
}

// project keeps only the requested columns. A row left without cells is dropped.
func (s Scan) project(row Row) (Row, bool) {
	if len(s.Columns) == 0 {
		return row, len(row.Cells) > 0
	}
	out := Row{Key: row.Key}
	for _, c := range row.Cells {
		for _, col := range s.Columns {
			if c.Family == col.Family && (col.Qualifier == "" || c.Qualifier == col.Qualifier) {
				out.Cells = append(out.Cells, c)
				break
			}
		}
	}
	return out, len(out.Cells) > 0
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or "" when no such key exists.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
