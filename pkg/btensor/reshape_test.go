package btensor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/itohio/quantit/pkg/conserved"
)

func zq(v int16) conserved.Quantity { return conserved.NewQuantity(conserved.Z(v)) }

// randomFilled builds a tensor over s with every allowed block populated
// by a deterministic ramp.
func randomFilled(t *testing.T, s Shape) BTensor {
	t.Helper()
	bt := New(s, tensor.Float64)
	v := 1.0
	forEachBlockIndex(s, func(ix Index) {
		if !s.BlockAllowed(ix) {
			return
		}
		blk, err := bt.Block(ix.clone())
		require.NoError(t, err)
		if blk.Size() == 0 {
			return
		}
		coords := make([]int, len(blk.Shape()))
		for {
			blk.SetAt(v, coords...)
			v++
			if !advance(coords, blk.Shape()) {
				break
			}
		}
	})
	return bt
}

func TestReshape(t *testing.T) {
	s, err := NewShape([][]Section{
		{{Size: 1, Qtt: zq(0)}, {Size: 2, Qtt: zq(1)}},
		{{Size: 2, Qtt: zq(0)}, {Size: 1, Qtt: zq(1)}},
		{{Size: 2, Qtt: zq(-1)}, {Size: 1, Qtt: zq(-2)}},
	}, zq(0))
	require.NoError(t, err)
	a := randomFilled(t, s)
	require.NoError(t, a.Validate())

	t.Run("merge first two dims", func(t *testing.T) {
		m, err := a.Reshape([][]int{{0, 1}, {2}})
		require.NoError(t, err)
		require.NoError(t, m.Validate())
		assert.Equal(t, 2, m.Dim())
		// quantities 0+0, 0+1, 1+0, 1+1 dedup to {0, 1, 2}
		assert.Equal(t, 3, m.Shape().SectionNumber(0))
		// dense data is preserved
		assert.InDelta(t, a.ToDense().Reshape(9, 3).Norm(), m.ToDense().Norm(), 1e-12)
	})

	t.Run("round trip via reshape_as", func(t *testing.T) {
		m, err := a.Reshape([][]int{{0, 1}, {2}})
		require.NoError(t, err)
		back, err := m.ReshapeAs(a.Shape(), false)
		require.NoError(t, err)
		assert.True(t, Allclose(&a, &back, 1e-12, 1e-12))
	})

	t.Run("full merge to vector", func(t *testing.T) {
		m, err := a.Reshape([][]int{{0, 1, 2}})
		require.NoError(t, err)
		assert.Equal(t, 1, m.Dim())
		back, err := m.ReshapeAs(a.Shape(), false)
		require.NoError(t, err)
		assert.True(t, Allclose(&a, &back, 1e-12, 1e-12))
	})

	t.Run("incompatible target", func(t *testing.T) {
		m, err := a.Reshape([][]int{{0, 1}, {2}})
		require.NoError(t, err)
		wrong, err := NewShape([][]Section{
			{{Size: 3, Qtt: zq(0)}, {Size: 6, Qtt: zq(1)}},
			{{Size: 2, Qtt: zq(-1)}, {Size: 1, Qtt: zq(-2)}},
		}, zq(0))
		require.NoError(t, err)
		_, err = m.ReshapeAs(wrong, false)
		assert.True(t, errors.Is(err, ErrReshapeIncompatible))
	})

	t.Run("groups must be consecutive", func(t *testing.T) {
		_, err := a.Reshape([][]int{{0, 2}, {1}})
		assert.True(t, errors.Is(err, ErrReshapeIncompatible))
	})
}

func TestIndexViews(t *testing.T) {
	s, err := NewShape([][]Section{
		{{Size: 2, Qtt: zq(0)}, {Size: 3, Qtt: zq(1)}},
		{{Size: 2, Qtt: zq(0)}, {Size: 3, Qtt: zq(-1)}},
	}, zq(0))
	require.NoError(t, err)
	a := randomFilled(t, s)

	t.Run("slice keeps sections and shares blocks", func(t *testing.T) {
		v, err := a.Index(IdxRange(0, 1), IdxEllipsis())
		require.NoError(t, err)
		assert.Equal(t, 1, v.Shape().SectionNumber(0))
		assert.Equal(t, 2, v.Shape().SectionNumber(1))

		// mutation through the view is visible in the source
		vb, err := v.BlockAt(Index{0, 0})
		require.NoError(t, err)
		vb.SetAt(99, 0, 0)
		ab, err := a.BlockAt(Index{0, 0})
		require.NoError(t, err)
		assert.Equal(t, 99.0, ab.At(0, 0))
	})

	t.Run("full-slice view shares everything", func(t *testing.T) {
		v, err := a.Index(IdxEllipsis())
		require.NoError(t, err)
		assert.Equal(t, a.NumBlocks(), v.NumBlocks())
	})

	t.Run("index put writes through", func(t *testing.T) {
		b := a.Clone()
		patchShape, err := NewShape([][]Section{
			{{Size: 2, Qtt: zq(0)}},
			{{Size: 2, Qtt: zq(0)}},
		}, zq(0))
		require.NoError(t, err)
		patch := New(patchShape, tensor.Float64)
		pb, err := patch.Block(Index{0, 0})
		require.NoError(t, err)
		pb.SetAt(42, 1, 1)
		pb.SetAt(41, 0, 0)

		require.NoError(t, b.IndexPut([]TensorIndex{IdxRange(0, 1), IdxRange(0, 1)}, &patch))
		bb, err := b.BlockAt(Index{0, 0})
		require.NoError(t, err)
		assert.Equal(t, 42.0, bb.At(1, 1))
		assert.Equal(t, 41.0, bb.At(0, 0))
	})

	t.Run("scalar put reaches allowed blocks only", func(t *testing.T) {
		b := New(s, tensor.Float64)
		require.NoError(t, b.IndexPutScalar([]TensorIndex{IdxEllipsis()}, 1))
		assert.Equal(t, 2, b.NumBlocks()) // (0,0) and (1,1) only
		require.NoError(t, b.Validate())
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := a.Index(IdxAt(7))
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}
