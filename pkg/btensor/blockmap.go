package btensor

import (
	"sort"

	"github.com/itohio/quantit/pkg/dense"
)

// blockEntry pairs a block index with its dense sub-tensor handle.
type blockEntry struct {
	idx Index
	t   dense.Tensor
}

// blockList is a flat associative map from block index to dense tensor,
// kept as a vector sorted by strict lexicographic index order. Inserts
// either place a new entry or combine with the existing one through a
// merge callback, which keeps ordering maintenance in one place.
type blockList struct {
	entries []blockEntry
}

func (l *blockList) len() int { return len(l.entries) }

// find locates idx, returning its position or the insertion point.
func (l *blockList) find(idx Index) (int, bool) {
	pos := sort.Search(len(l.entries), func(i int) bool {
		return lexCompare(l.entries[i].idx, idx) >= 0
	})
	if pos < len(l.entries) && lexCompare(l.entries[pos].idx, idx) == 0 {
		return pos, true
	}
	return pos, false
}

func (l *blockList) at(idx Index) (dense.Tensor, bool) {
	if pos, ok := l.find(idx); ok {
		return l.entries[pos].t, true
	}
	return dense.Tensor{}, false
}

// put inserts or replaces the entry at idx.
func (l *blockList) put(idx Index, t dense.Tensor) {
	l.mergeWith(idx, t, func(_, incoming dense.Tensor) dense.Tensor { return incoming })
}

// mergeWith inserts t at idx, or applies combine to the existing value
// when the key is already present. Lexicographic ordering is preserved.
func (l *blockList) mergeWith(idx Index, t dense.Tensor, combine func(existing, incoming dense.Tensor) dense.Tensor) {
	pos, ok := l.find(idx)
	if ok {
		l.entries[pos].t = combine(l.entries[pos].t, t)
		return
	}
	l.entries = append(l.entries, blockEntry{})
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = blockEntry{idx: idx.clone(), t: t}
}

func (l *blockList) removeAt(pos int) {
	l.entries = append(l.entries[:pos], l.entries[pos+1:]...)
}

func (l *blockList) reserve(n int) {
	if cap(l.entries) < n {
		grown := make([]blockEntry, len(l.entries), n)
		copy(grown, l.entries)
		l.entries = grown
	}
}

func (l *blockList) shrink() {
	if cap(l.entries) > len(l.entries) {
		trimmed := make([]blockEntry, len(l.entries))
		copy(trimmed, l.entries)
		l.entries = trimmed
	}
}

// clone copies the entry vector. Dense handles are shared, not copied;
// deep copies are the caller's business.
func (l blockList) clone() blockList {
	out := blockList{entries: make([]blockEntry, len(l.entries))}
	for i, e := range l.entries {
		out.entries[i] = blockEntry{idx: e.idx.clone(), t: e.t}
	}
	return out
}

// sortEntries restores lexicographic order after a bulk index rewrite.
func (l *blockList) sortEntries() {
	sort.Slice(l.entries, func(i, j int) bool {
		return lexCompare(l.entries[i].idx, l.entries[j].idx) < 0
	})
}
