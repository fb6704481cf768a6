package btensor

import (
	"github.com/pkg/errors"
)

// TensorIndex selects sections along one dimension, with semantics
// modelled on NumPy basic indexing at section granularity: an integer
// collapses the dimension to one section, a slice keeps a section range,
// and an ellipsis expands to whole-dimension slices.
type TensorIndex struct {
	kind   idxKind
	at     int
	lo, hi int
}

type idxKind uint8

const (
	idxInt idxKind = iota
	idxSlice
	idxEllipsis
)

// IdxAt selects section i of a dimension and collapses it.
func IdxAt(i int) TensorIndex { return TensorIndex{kind: idxInt, at: i} }

// IdxRange keeps sections [lo, hi) of a dimension.
func IdxRange(lo, hi int) TensorIndex { return TensorIndex{kind: idxSlice, lo: lo, hi: hi} }

// IdxAll keeps a dimension whole.
func IdxAll() TensorIndex { return TensorIndex{kind: idxSlice, lo: 0, hi: -1} }

// IdxEllipsis expands to as many IdxAll as needed.
func IdxEllipsis() TensorIndex { return TensorIndex{kind: idxEllipsis} }

// expandIndices resolves an ellipsis and pads the list with IdxAll up to
// the tensor rank.
func expandIndices(rank int, ixs []TensorIndex) ([]TensorIndex, error) {
	out := make([]TensorIndex, 0, rank)
	ell := -1
	for i, ix := range ixs {
		if ix.kind == idxEllipsis {
			if ell >= 0 {
				return nil, errors.Wrap(ErrNotFound, "more than one ellipsis in index list")
			}
			ell = i
			continue
		}
		out = append(out, ix)
	}
	if len(out) > rank {
		return nil, errors.Wrapf(ErrNotFound, "%d indices for rank-%d tensor", len(out), rank)
	}
	fill := rank - len(out)
	if ell < 0 {
		ell = len(out)
	}
	expanded := make([]TensorIndex, 0, rank)
	expanded = append(expanded, out[:ell]...)
	for i := 0; i < fill; i++ {
		expanded = append(expanded, IdxAll())
	}
	expanded = append(expanded, out[ell:]...)
	return expanded, nil
}

// Index produces a view of the tensor. Collapsed dimensions shift the
// selection rule by the inverse of the selected section's quantity;
// sliced dimensions renumber their sections. The view shares dense block
// handles with the source: writes through either side are visible to
// both, and the view can never add blocks to its source.
func (t *BTensor) Index(ixs ...TensorIndex) (BTensor, error) {
	expanded, err := expandIndices(t.Dim(), ixs)
	if err != nil {
		return BTensor{}, err
	}
	rule := t.shape.rule.Clone()
	var dims [][]Section
	keepDims := make([]int, 0, t.Dim())
	los := make([]int, t.Dim())
	sel := make([]int, t.Dim()) // -1 when kept
	for d, ix := range expanded {
		switch ix.kind {
		case idxInt:
			if ix.at < 0 || ix.at >= t.shape.SectionNumber(d) {
				return BTensor{}, errors.Wrapf(ErrNotFound, "section %d out of range in dim %d", ix.at, d)
			}
			sel[d] = ix.at
			if err := rule.Op(t.shape.SectionQtt(d, ix.at).Inverse()); err != nil {
				return BTensor{}, err
			}
		case idxSlice:
			lo, hi := ix.lo, ix.hi
			if hi == -1 {
				hi = t.shape.SectionNumber(d)
			}
			if lo < 0 || hi > t.shape.SectionNumber(d) || lo > hi {
				return BTensor{}, errors.Wrapf(ErrNotFound, "section range [%d, %d) out of range in dim %d", lo, hi, d)
			}
			sel[d] = -1
			los[d] = lo
			keepDims = append(keepDims, d)
			dims = append(dims, t.shape.Dims(d)[lo:hi])
		}
	}
	shape, err := NewShape(dims, rule)
	if err != nil {
		return BTensor{}, err
	}
	out := New(shape, t.dt)
	for _, e := range t.blocks.entries {
		match := true
		for d, s := range sel {
			if s >= 0 && e.idx[d] != s {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		ix := make(Index, 0, len(keepDims))
		inRange := true
		for _, d := range keepDims {
			k := e.idx[d] - los[d]
			if k < 0 || k >= shape.SectionNumber(len(ix)) {
				inRange = false
				break
			}
			ix = append(ix, k)
		}
		if !inRange {
			continue
		}
		// pure slice views share the dense handle; collapsing a dim
		// needs the section to have extent 1 and reshapes a copy.
		blk := e.t
		if len(keepDims) != t.Dim() {
			sizes := e.t.Shape()
			for d, s := range sel {
				if s >= 0 && sizes[d] != 1 {
					return BTensor{}, errors.Wrapf(ErrShapeMismatch, "collapsing dim %d with section extent %d; only extent-1 sections collapse", d, sizes[d])
				}
			}
			newShape := make([]int, 0, len(keepDims))
			for _, d := range keepDims {
				newShape = append(newShape, sizes[d])
			}
			blk = e.t.Reshape(newShape...)
		}
		out.blocks.put(ix, blk)
	}
	return out, nil
}

// IndexPut writes rhs into the selected region of the tensor, allocating
// allowed blocks as needed. rhs must have the view's shape. Data that
// would land on a disallowed block fails with ErrSelectionRule.
func (t *BTensor) IndexPut(ixs []TensorIndex, rhs *BTensor) error {
	expanded, err := expandIndices(t.Dim(), ixs)
	if err != nil {
		return err
	}
	view, err := t.Index(ixs...)
	if err != nil {
		return err
	}
	if !view.shape.EqualDims(rhs.shape) {
		return errors.Wrapf(ErrShapeMismatch, "index_put: view %s vs rhs %s", view.shape, rhs.shape)
	}
	for _, e := range rhs.blocks.entries {
		if e.t.Size() == 0 {
			continue
		}
		srcIx := make(Index, t.Dim())
		pos := 0
		for d, ix := range expanded {
			switch ix.kind {
			case idxInt:
				srcIx[d] = ix.at
			case idxSlice:
				srcIx[d] = e.idx[pos] + ix.lo
				pos++
			}
		}
		if !t.shape.BlockAllowed(srcIx) {
			if e.t.InfNorm() == 0 {
				continue
			}
			return errors.Wrapf(ErrSelectionRule, "index_put: non-zero data on disallowed block %v", srcIx)
		}
		dst, err := t.Block(srcIx)
		if err != nil {
			return err
		}
		dst.WriteRegion(make([]int, t.Dim()), e.t.Reshape(t.shape.BlockShape(srcIx)...))
	}
	return nil
}

// IndexPutScalar fills the selected region with s. The write reaches
// allowed blocks only; disallowed positions are skipped silently.
func (t *BTensor) IndexPutScalar(ixs []TensorIndex, s float64) error {
	expanded, err := expandIndices(t.Dim(), ixs)
	if err != nil {
		return err
	}
	var fill func(d int, ix Index) error
	ix := make(Index, t.Dim())
	fill = func(d int, ix Index) error {
		if d == t.Dim() {
			if !t.shape.BlockAllowed(ix) {
				return nil
			}
			b, err := t.Block(ix)
			if err != nil {
				return err
			}
			sizes := b.Shape()
			coords := make([]int, len(sizes))
			if b.Size() == 0 {
				return nil
			}
			for {
				b.SetAt(s, coords...)
				if !advance(coords, sizes) {
					return nil
				}
			}
		}
		sel := expanded[d]
		switch sel.kind {
		case idxInt:
			ix[d] = sel.at
			return fill(d+1, ix)
		default:
			lo, hi := sel.lo, sel.hi
			if hi == -1 {
				hi = t.shape.SectionNumber(d)
			}
			for k := lo; k < hi; k++ {
				ix[d] = k
				if err := fill(d+1, ix); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return fill(0, ix)
}

func advance(coords, shape []int) bool {
	for i := len(coords) - 1; i >= 0; i-- {
		coords[i]++
		if coords[i] < shape[i] {
			return true
		}
		coords[i] = 0
	}
	return false
}
