package btensor

import (
	"github.com/pkg/errors"
)

// Add computes alpha*a + beta*b. Both operands must share the same shape
// and selection rule; the result holds the union of their block keys with
// missing operands treated as zero.
func Add(a, b *BTensor, alpha, beta float64) (BTensor, error) {
	if !a.shape.Equal(b.shape) {
		return BTensor{}, errors.Wrapf(ErrShapeMismatch, "add: %s vs %s", a.shape, b.shape)
	}
	out := New(a.shape, a.dt)
	out.Reserve(a.NumBlocks() + b.NumBlocks())
	for _, e := range a.blocks.entries {
		if other, ok := b.blocks.at(e.idx); ok {
			out.blocks.put(e.idx.clone(), e.t.Add(other, alpha, beta))
		} else {
			out.blocks.put(e.idx.clone(), e.t.Scale(alpha))
		}
	}
	for _, e := range b.blocks.entries {
		if _, ok := a.blocks.at(e.idx); !ok {
			out.blocks.put(e.idx.clone(), e.t.Scale(beta))
		}
	}
	return out, nil
}

// Sub computes a - b.
func Sub(a, b *BTensor) (BTensor, error) { return Add(a, b, 1, -1) }

// MulScalar returns s*t.
func (t *BTensor) MulScalar(s float64) BTensor {
	out := New(t.shape, t.dt)
	out.Reserve(t.NumBlocks())
	for _, e := range t.blocks.entries {
		out.blocks.put(e.idx.clone(), e.t.Scale(s))
	}
	return out
}

// MulScalarInPlace scales every stored block by s.
func (t *BTensor) MulScalarInPlace(s float64) {
	for _, e := range t.blocks.entries {
		e.t.ScaleInPlace(s)
	}
}

// AddScalarDiag adds s along the global diagonal of a rank-2 tensor,
// allocating the allowed blocks the diagonal crosses. Disallowed blocks
// are untouched, so the operation realizes s times the identity restricted
// to the quantity-preserving positions; eigensolver shifts need exactly
// that. Broadcasted scalar addition over all positions is not provided.
func (t *BTensor) AddScalarDiag(s float64) error {
	if t.Dim() != 2 {
		return errors.Wrapf(ErrShapeMismatch, "scalar diagonal add on rank-%d tensor", t.Dim())
	}
	for i := 0; i < t.shape.SectionNumber(0); i++ {
		rowLo := t.shape.SectionOffset(0, i)
		rowHi := rowLo + t.shape.SectionSize(0, i)
		for j := 0; j < t.shape.SectionNumber(1); j++ {
			colLo := t.shape.SectionOffset(1, j)
			colHi := colLo + t.shape.SectionSize(1, j)
			lo, hi := maxInt(rowLo, colLo), minInt(rowHi, colHi)
			if lo >= hi {
				continue // no diagonal crossing
			}
			ix := Index{i, j}
			if !t.shape.BlockAllowed(ix) {
				continue
			}
			b, err := t.Block(ix)
			if err != nil {
				return err
			}
			for g := lo; g < hi; g++ {
				r, c := g-rowLo, g-colLo
				b.SetAt(b.At(r, c)+s, r, c)
			}
		}
	}
	return nil
}

// Conj returns the conjugate tensor: block values conjugated (a copy for
// real scalar types) and every section quantity and the selection rule
// inverted. The inversion is what lets a tensor contract against its own
// conjugate under the inverse-pairing rule of Tensordot.
func (t *BTensor) Conj() BTensor {
	out := New(t.shape.Inverse(), t.dt)
	out.Reserve(t.NumBlocks())
	for _, e := range t.blocks.entries {
		out.blocks.put(e.idx.clone(), e.t.Conj())
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
