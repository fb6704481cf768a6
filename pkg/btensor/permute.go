package btensor

import (
	"github.com/pkg/errors"

	"github.com/itohio/quantit/pkg/conserved"
)

// Permute reorders the tensor dimensions by perm: dimension d of the
// result is dimension perm[d] of the source. Block keys and block data
// are permuted accordingly and the store is re-sorted to restore
// lexicographic order.
func (t *BTensor) Permute(perm []int) (BTensor, error) {
	r := t.Dim()
	if len(perm) != r {
		return BTensor{}, errors.Wrapf(ErrShapeMismatch, "permutation rank %d vs tensor rank %d", len(perm), r)
	}
	seen := make([]bool, r)
	for _, p := range perm {
		if p < 0 || p >= r || seen[p] {
			return BTensor{}, errors.Wrapf(ErrShapeMismatch, "invalid permutation %v", perm)
		}
		seen[p] = true
	}

	sectionsPerDim := make([]int, r)
	var sizes []int
	qtts := conserved.NewVector(0, t.shape.rule)
	for d := 0; d < r; d++ {
		src := perm[d]
		sectionsPerDim[d] = t.shape.SectionNumber(src)
		for k := 0; k < sectionsPerDim[d]; k++ {
			sizes = append(sizes, t.shape.SectionSize(src, k))
			if err := qtts.PushBack(t.shape.SectionQtt(src, k)); err != nil {
				return BTensor{}, err
			}
		}
	}
	out := New(NewShapeRaw(sectionsPerDim, sizes, qtts, t.shape.rule), t.dt)
	out.Reserve(t.NumBlocks())
	for _, e := range t.blocks.entries {
		ix := make(Index, r)
		for d := 0; d < r; d++ {
			ix[d] = e.idx[perm[d]]
		}
		out.blocks.entries = append(out.blocks.entries, blockEntry{idx: ix, t: e.t.Permute(perm...)})
	}
	out.blocks.sortEntries()
	return out, nil
}

// inversePerm returns the permutation undoing perm.
func inversePerm(perm []int) []int {
	inv := make([]int, len(perm))
	for d, p := range perm {
		inv[p] = d
	}
	return inv
}
