package timeline

import (
	"container/heap"

	"github.com/jacentio/ripple/store"
)

// entry is one timeline pointer.
type entry struct {
	author    string
	postKey   string
	timestamp int64
}

// stream is one author's pointers, newest first.
type stream struct {
	author string
	cells  []store.Cell
	pos    int
}

func (s *stream) head() entry {
	c := s.cells[s.pos]
	return entry{author: s.author, postKey: string(c.Value), timestamp: c.Timestamp}
}

// streamHeap orders streams by their head pointer, newest first. Ties break
// on author then post key so the merge is deterministic.
type streamHeap []*stream

func (h streamHeap) Len() int { return len(h) }

func (h streamHeap) Less(i, j int) bool {
	a, b := h[i].head(), h[j].head()
	if a.timestamp != b.timestamp {
		return a.timestamp > b.timestamp
	}
	if a.author != b.author {
		return a.author < b.author
	}
	return a.postKey < b.postKey
}

func (h streamHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *streamHeap) Push(x any) { *h = append(*h, x.(*stream)) }

func (h *streamHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}

// streams splits a timeline row into per-author streams. Row cells are
// ordered by qualifier then timestamp descending, so each author's versions
// are contiguous and already newest first.
func streams(row store.Row) []*stream {
	var out []*stream
	for i := 0; i < len(row.Cells); {
		c := row.Cells[i]
		j := i + 1
		for j < len(row.Cells) && row.Cells[j].Family == c.Family && row.Cells[j].Qualifier == c.Qualifier {
			j++
		}
		if c.Family == Family {
			out = append(out, &stream{author: c.Qualifier, cells: row.Cells[i:j]})
		}
		i = j
	}
	return out
}

// mergeTop merges author streams into the n newest pointers in O(n log k).
func mergeTop(ss []*stream, n int) []entry {
	h := make(streamHeap, 0, len(ss))
	for _, s := range ss {
		if len(s.cells) > 0 {
			h = append(h, s)
		}
	}
	heap.Init(&h)

	out := make([]entry, 0, n)
	for h.Len() > 0 && len(out) < n {
		s := h[0]
		out = append(out, s.head())
		s.pos++
		if s.pos == len(s.cells) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return out
}
