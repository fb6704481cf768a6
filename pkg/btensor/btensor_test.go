package btensor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/itohio/quantit/pkg/conserved"
	"github.com/itohio/quantit/pkg/dense"
)

func c5(v uint16) conserved.Quantity { return conserved.NewQuantity(conserved.C(5, v)) }

// shape55 is the two-dimensional C5 example: dim 0 sections
// [(2, C5(0)), (3, C5(1))], dim 1 sections [(2, C5(0)), (3, C5(4))],
// selection rule C5(0). Allowed blocks: (0,0) and (1,1).
func shape55(t *testing.T) Shape {
	t.Helper()
	s, err := NewShape([][]Section{
		{{Size: 2, Qtt: c5(0)}, {Size: 3, Qtt: c5(1)}},
		{{Size: 2, Qtt: c5(0)}, {Size: 3, Qtt: c5(4)}},
	}, c5(0))
	require.NoError(t, err)
	return s
}

func TestShape(t *testing.T) {
	s := shape55(t)

	t.Run("accessors", func(t *testing.T) {
		assert.Equal(t, 2, s.Dim())
		assert.Equal(t, 2, s.SectionNumber(0))
		assert.Equal(t, 3, s.SectionSize(0, 1))
		assert.True(t, s.SectionQtt(1, 1).Equal(c5(4)))
		assert.Equal(t, 5, s.TotalExtent(0))
		assert.Equal(t, 2, s.SectionOffset(0, 1))
	})

	t.Run("block admission", func(t *testing.T) {
		assert.True(t, s.BlockAllowed(Index{0, 0}))
		assert.True(t, s.BlockAllowed(Index{1, 1})) // C5(1)+C5(4) = C5(0)
		assert.False(t, s.BlockAllowed(Index{1, 0}))
		assert.False(t, s.BlockAllowed(Index{0, 1}))
		assert.Equal(t, []int{3, 3}, s.BlockShape(Index{1, 1}))
	})

	t.Run("tensor product shape", func(t *testing.T) {
		p, err := s.TensorProductShape(s)
		require.NoError(t, err)
		assert.Equal(t, 4, p.Dim())
		assert.True(t, p.SelectionRule().Equal(c5(0)))
	})

	t.Run("shape from mask", func(t *testing.T) {
		sub, err := s.ShapeFrom([]int{-1, 1})
		require.NoError(t, err)
		assert.Equal(t, 1, sub.Dim())
		// rule shifts by inverse of C5(4): 0 - 4 = 1
		assert.True(t, sub.SelectionRule().Equal(c5(1)))
	})

	t.Run("inverse shape", func(t *testing.T) {
		inv := s.Inverse()
		assert.True(t, inv.SectionQtt(0, 1).Equal(c5(4)))
		assert.True(t, inv.BlockAllowed(Index{1, 1}))
		assert.False(t, inv.BlockAllowed(Index{1, 0}))
	})
}

func TestBlockAllocation(t *testing.T) {
	s := shape55(t)
	bt := New(s, tensor.Float64)

	t.Run("allocate allowed", func(t *testing.T) {
		b, err := bt.Block(Index{0, 0})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2}, b.Shape())
		_, err = bt.Block(Index{1, 1})
		require.NoError(t, err)
		assert.Equal(t, 2, bt.NumBlocks())
	})

	t.Run("disallowed fails", func(t *testing.T) {
		_, err := bt.Block(Index{1, 0})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSelectionRule))
	})

	t.Run("missing lookup fails", func(t *testing.T) {
		fresh := New(s, tensor.Float64)
		_, err := fresh.BlockAt(Index{0, 0})
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = fresh.BlockAt(Index{5, 0})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("writes through the handle persist", func(t *testing.T) {
		b, err := bt.Block(Index{0, 0})
		require.NoError(t, err)
		b.SetAt(3.5, 1, 1)
		again, err := bt.BlockAt(Index{0, 0})
		require.NoError(t, err)
		assert.Equal(t, 3.5, again.At(1, 1))
	})

	t.Run("validate clean tensor", func(t *testing.T) {
		assert.Empty(t, bt.CheckTensor())
		assert.NoError(t, bt.Validate())
	})
}

func TestToDenseFromDense(t *testing.T) {
	s := shape55(t)
	bt := New(s, tensor.Float64)
	b00, err := bt.Block(Index{0, 0})
	require.NoError(t, err)
	b00.SetAt(1, 0, 0)
	b00.SetAt(2, 1, 1)
	b11, err := bt.Block(Index{1, 1})
	require.NoError(t, err)
	b11.SetAt(7, 2, 2)

	d := bt.ToDense()
	assert.Equal(t, []int{5, 5}, d.Shape())
	assert.Equal(t, 1.0, d.At(0, 0))
	assert.Equal(t, 2.0, d.At(1, 1))
	assert.Equal(t, 7.0, d.At(4, 4))
	assert.Equal(t, 0.0, d.At(0, 3)) // disallowed region is zero

	t.Run("round trip", func(t *testing.T) {
		back, err := FromDense(s, d, 0)
		require.NoError(t, err)
		assert.True(t, Allclose(&bt, &back, 0, 0))
	})

	t.Run("cutoff discards small slices", func(t *testing.T) {
		back, err := FromDense(s, d, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, back.NumBlocks()) // only the 7 survives
	})

	t.Run("out of rule data is discarded silently", func(t *testing.T) {
		noisy := d.Clone()
		noisy.SetAt(9, 0, 3) // inside block (0, 1), disallowed
		back, err := FromDense(s, noisy, 0)
		require.NoError(t, err)
		assert.False(t, back.HasBlock(Index{0, 1}))
	})

	t.Run("rule inference", func(t *testing.T) {
		back, err := FromDenseInferRule(s.NeutralRule(), d, 0)
		require.NoError(t, err)
		assert.True(t, back.SelectionRule().Equal(c5(0)))
		assert.Equal(t, 2, back.NumBlocks())
	})
}

func TestArithmetic(t *testing.T) {
	s := shape55(t)
	a := New(s, tensor.Float64)
	ab, err := a.Block(Index{0, 0})
	require.NoError(t, err)
	ab.SetAt(2, 0, 0)

	b := New(s, tensor.Float64)
	bb, err := b.Block(Index{1, 1})
	require.NoError(t, err)
	bb.SetAt(4, 0, 0)

	t.Run("union of keys", func(t *testing.T) {
		c, err := Add(&a, &b, 2, 0.5)
		require.NoError(t, err)
		assert.Equal(t, 2, c.NumBlocks())
		c00, err := c.BlockAt(Index{0, 0})
		require.NoError(t, err)
		assert.Equal(t, 4.0, c00.At(0, 0))
		c11, err := c.BlockAt(Index{1, 1})
		require.NoError(t, err)
		assert.Equal(t, 2.0, c11.At(0, 0))
		require.NoError(t, c.Validate())
	})

	t.Run("shape mismatch", func(t *testing.T) {
		other, err := NewShape([][]Section{
			{{Size: 2, Qtt: c5(0)}, {Size: 3, Qtt: c5(1)}},
			{{Size: 2, Qtt: c5(0)}, {Size: 3, Qtt: c5(4)}},
		}, c5(1))
		require.NoError(t, err)
		bad := New(other, tensor.Float64)
		_, err = Add(&a, &bad, 1, 1)
		assert.True(t, errors.Is(err, ErrShapeMismatch))
	})

	t.Run("scalar ops", func(t *testing.T) {
		c := a.MulScalar(3)
		c00, err := c.BlockAt(Index{0, 0})
		require.NoError(t, err)
		assert.Equal(t, 6.0, c00.At(0, 0))
	})

	t.Run("diagonal scalar add touches allowed blocks only", func(t *testing.T) {
		c := a.Clone()
		require.NoError(t, c.AddScalarDiag(1))
		// diagonal crosses (0,0) at rows 0..1 and (1,1) at rows 2..4
		c00, err := c.BlockAt(Index{0, 0})
		require.NoError(t, err)
		assert.Equal(t, 3.0, c00.At(0, 0))
		assert.Equal(t, 1.0, c00.At(1, 1))
		c11, err := c.BlockAt(Index{1, 1})
		require.NoError(t, err)
		assert.Equal(t, 1.0, c11.At(0, 0))
		assert.False(t, c.HasBlock(Index{1, 0}))
		require.NoError(t, c.Validate())
	})
}

func TestPermute(t *testing.T) {
	s, err := NewShape([][]Section{
		{{Size: 2, Qtt: c5(0)}, {Size: 3, Qtt: c5(1)}},
		{{Size: 2, Qtt: c5(0)}, {Size: 3, Qtt: c5(4)}},
		{{Size: 1, Qtt: c5(1)}, {Size: 3, Qtt: c5(0)}},
	}, c5(0))
	require.NoError(t, err)
	a := New(s, tensor.Float64)
	blk, err := a.Block(Index{0, 0, 1})
	require.NoError(t, err)
	blk.SetAt(5, 1, 0, 2)

	p, err := a.Permute([]int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Shape().SectionNumber(0))
	assert.True(t, p.HasBlock(Index{1, 0, 0}))
	pb, err := p.BlockAt(Index{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, pb.At(2, 1, 0))

	t.Run("round trip", func(t *testing.T) {
		back, err := p.Permute(inversePerm([]int{2, 0, 1}))
		require.NoError(t, err)
		assert.True(t, Allclose(&a, &back, 0, 0))
	})
}

func TestTensordot(t *testing.T) {
	// Rank-3 A with shape [(2,C5(0)),(3,C5(1))] x [(2,C5(0)),(3,C5(4))]
	// x [(1,C5(1)),(3,C5(0))], rule C5(0); blocks (0,0,1) and (1,1,1).
	s, err := NewShape([][]Section{
		{{Size: 2, Qtt: c5(0)}, {Size: 3, Qtt: c5(1)}},
		{{Size: 2, Qtt: c5(0)}, {Size: 3, Qtt: c5(4)}},
		{{Size: 1, Qtt: c5(1)}, {Size: 3, Qtt: c5(0)}},
	}, c5(0))
	require.NoError(t, err)
	a := New(s, tensor.Float64)
	b001, err := a.Block(Index{0, 0, 1})
	require.NoError(t, err)
	v := 1.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 3; k++ {
				b001.SetAt(v, i, j, k)
				v++
			}
		}
	}
	b111, err := a.Block(Index{1, 1, 1})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				b111.SetAt(v, i, j, k)
				v++
			}
		}
	}

	// contracting A with its conjugate over dims {0,1} pairs each
	// quantity with its inverse
	ac := a.Conj()
	c, err := Tensordot(&a, &ac, []int{0, 1}, []int{0, 1})
	require.NoError(t, err)
	require.Equal(t, 2, c.Dim())

	t.Run("matches dense contraction", func(t *testing.T) {
		got, err := dense.Tensordot(a.ToDense(), ac.ToDense(), []int{0, 1}, []int{0, 1})
		require.NoError(t, err)
		assert.True(t, dense.Allclose(c.ToDense(), got, 1e-10, 1e-10))
	})

	t.Run("single non-zero class", func(t *testing.T) {
		// both blocks contract only against themselves
		cb, err := c.BlockAt(Index{1, 1})
		require.NoError(t, err)
		d001, err := dense.Tensordot(b001, b001, []int{0, 1}, []int{0, 1})
		require.NoError(t, err)
		d111, err := dense.Tensordot(b111, b111, []int{0, 1}, []int{0, 1})
		require.NoError(t, err)
		want := d001.Add(d111, 1, 1)
		assert.True(t, dense.Allclose(cb, want, 1e-10, 1e-10))
	})

	t.Run("empty contraction is the tensor product", func(t *testing.T) {
		p, err := Tensordot(&a, &ac, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 6, p.Dim())
		assert.Equal(t, 4, p.NumBlocks())
		require.NoError(t, p.Validate())
	})

	t.Run("quantity mismatch is rejected", func(t *testing.T) {
		_, err := Tensordot(&a, &a, []int{0, 1}, []int{0, 1})
		assert.True(t, errors.Is(err, ErrShapeMismatch))
	})
}

func TestTensorGdot(t *testing.T) {
	s := shape55(t)
	a := New(s, tensor.Float64)
	ab, err := a.Block(Index{0, 0})
	require.NoError(t, err)
	ab.SetAt(2, 0, 0)
	ac := a.Conj()

	c, err := Tensordot(&a, &ac, []int{1}, []int{1})
	require.NoError(t, err)
	before, err := c.BlockAt(Index{0, 0})
	require.NoError(t, err)
	want := before.At(0, 0) * 3 // beta=1 plus alpha=2 of the same product

	require.NoError(t, TensorGdot(&c, &a, &ac, []int{1}, []int{1}, 1, 2))
	after, err := c.BlockAt(Index{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, want, after.At(0, 0), 1e-12)
}
