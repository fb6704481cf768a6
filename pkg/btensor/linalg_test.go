package btensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/itohio/quantit/pkg/dense"
)

// recompose contracts U * D * V^T back into a rank-2 block tensor.
func recompose(t *testing.T, U, D, V *BTensor) BTensor {
	t.Helper()
	ud, err := Tensordot(U, D, []int{1}, []int{0})
	require.NoError(t, err)
	out, err := Tensordot(&ud, V, []int{1}, []int{1})
	require.NoError(t, err)
	return out
}

func TestBlockSVD(t *testing.T) {
	s, err := NewShape([][]Section{
		{{Size: 2, Qtt: zq(0)}, {Size: 3, Qtt: zq(1)}},
		{{Size: 2, Qtt: zq(0)}, {Size: 3, Qtt: zq(-1)}},
	}, zq(0))
	require.NoError(t, err)
	a := randomFilled(t, s)

	U, D, V, err := SVD(&a)
	require.NoError(t, err)

	t.Run("selection rules", func(t *testing.T) {
		assert.True(t, U.SelectionRule().Equal(zq(0)))
		assert.True(t, D.SelectionRule().Equal(zq(0)))
		assert.True(t, V.SelectionRule().Equal(zq(0)))
		require.NoError(t, U.Validate())
		require.NoError(t, D.Validate())
		require.NoError(t, V.Validate())
	})

	t.Run("one bond section per class", func(t *testing.T) {
		assert.Equal(t, 2, U.Shape().SectionNumber(1))
		assert.Equal(t, 2, D.Shape().SectionNumber(0))
	})

	t.Run("reconstruction", func(t *testing.T) {
		rec := recompose(t, &U, &D, &V)
		assert.True(t, dense.Allclose(a.ToDense(), rec.ToDense(), 1e-9, 1e-9))
	})

	t.Run("dense agreement of singular values", func(t *testing.T) {
		_, sd, _, err := dense.SVD(a.ToDense())
		require.NoError(t, err)
		var blockVals []float64
		for _, vals := range diagValues(&D) {
			blockVals = append(blockVals, vals...)
		}
		// same multiset up to ordering: compare sums of squares
		var a2, b2 float64
		for _, v := range sd.Float64s() {
			a2 += v * v
		}
		for _, v := range blockVals {
			b2 += v * v
		}
		assert.InDelta(t, a2, b2, 1e-9)
	})
}

func TestSVDSplitAndTruncate(t *testing.T) {
	s, err := NewShape([][]Section{
		{{Size: 1, Qtt: zq(0)}, {Size: 1, Qtt: zq(1)}},
		{{Size: 2, Qtt: zq(0)}, {Size: 1, Qtt: zq(1)}},
		{{Size: 2, Qtt: zq(0)}, {Size: 1, Qtt: zq(-1)}},
		{{Size: 1, Qtt: zq(0)}, {Size: 1, Qtt: zq(-1)}},
	}, zq(0))
	require.NoError(t, err)
	a := randomFilled(t, s)

	U, D, V, err := SVDSplit(&a, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, U.Dim())
	assert.Equal(t, 3, V.Dim())

	t.Run("split reconstruction", func(t *testing.T) {
		ud, err := Tensordot(&U, &D, []int{2}, []int{0})
		require.NoError(t, err)
		rec, err := Tensordot(&ud, &V, []int{2}, []int{2})
		require.NoError(t, err)
		assert.True(t, dense.Allclose(a.ToDense(), rec.ToDense(), 1e-9, 1e-9))
	})

	t.Run("truncation to zero tolerance keeps everything", func(t *testing.T) {
		bond := 0
		for k := 0; k < D.Shape().SectionNumber(0); k++ {
			bond += D.Shape().SectionSize(0, k)
		}
		tu, td, tv, err := Truncate(&U, &D, &V, TruncOpts{Tol: 0, Pow: 2, MinSize: bond})
		require.NoError(t, err)
		kept := 0
		for k := 0; k < td.Shape().SectionNumber(0); k++ {
			kept += td.Shape().SectionSize(0, k)
		}
		assert.Equal(t, bond, kept)
		ud, err := Tensordot(&tu, &td, []int{2}, []int{0})
		require.NoError(t, err)
		rec, err := Tensordot(&ud, &tv, []int{2}, []int{2})
		require.NoError(t, err)
		assert.True(t, dense.Allclose(a.ToDense(), rec.ToDense(), 1e-9, 1e-9))
	})

	t.Run("min size zero can drop the whole bond", func(t *testing.T) {
		// a tolerance covering the entire spectrum with no floor leaves
		// no bond sections at all
		tu, td, tv, err := Truncate(&U, &D, &V, TruncOpts{Tol: 1e12, Pow: 2, MinSize: 0})
		require.NoError(t, err)
		assert.Equal(t, 0, td.Shape().SectionNumber(0))
		assert.Equal(t, 0, tu.Shape().SectionNumber(tu.Dim()-1))
		assert.Equal(t, 0, tv.Shape().SectionNumber(tv.Dim()-1))
		assert.Equal(t, 0, tu.NumBlocks())
		assert.Equal(t, 0, td.NumBlocks())
		assert.Equal(t, 0, tv.NumBlocks())
		require.NoError(t, tu.Validate())
	})

	t.Run("max size bounds the bond", func(t *testing.T) {
		tu, td, _, err := Truncate(&U, &D, &V, TruncOpts{Tol: 0, Pow: 2, MinSize: 1, MaxSize: 2})
		require.NoError(t, err)
		kept := 0
		for k := 0; k < td.Shape().SectionNumber(0); k++ {
			kept += td.Shape().SectionSize(0, k)
		}
		assert.LessOrEqual(t, kept, 2)
		require.NoError(t, tu.Validate())
	})
}

func TestBlockEigh(t *testing.T) {
	s, err := NewShape([][]Section{
		{{Size: 2, Qtt: zq(0)}, {Size: 2, Qtt: zq(1)}},
		{{Size: 2, Qtt: zq(0)}, {Size: 2, Qtt: zq(-1)}},
	}, zq(0))
	require.NoError(t, err)
	a := New(s, tensor.Float64)
	b00, err := a.Block(Index{0, 0})
	require.NoError(t, err)
	b00.SetAt(2, 0, 0)
	b00.SetAt(1, 0, 1)
	b00.SetAt(1, 1, 0)
	b00.SetAt(2, 1, 1)
	b11, err := a.Block(Index{1, 1})
	require.NoError(t, err)
	b11.SetAt(5, 0, 0)
	b11.SetAt(4, 1, 1)

	E, U, err := Eigh(&a)
	require.NoError(t, err)
	require.NoError(t, E.Validate())
	require.NoError(t, U.Validate())

	t.Run("eigenvalues per class", func(t *testing.T) {
		vals := diagValues(&E)
		flat := map[float64]bool{}
		for _, vs := range vals {
			for _, v := range vs {
				flat[v] = true
			}
		}
		for _, want := range []float64{3, 1, 5, 4} {
			assert.Contains(t, flat, want)
		}
	})

	t.Run("reconstruction through the conjugate", func(t *testing.T) {
		ue, err := Tensordot(&U, &E, []int{1}, []int{0})
		require.NoError(t, err)
		uc := U.Conj()
		rec, err := Tensordot(&ue, &uc, []int{1}, []int{1})
		require.NoError(t, err)
		assert.True(t, dense.Allclose(a.ToDense(), rec.ToDense(), 1e-9, 1e-9))
	})
}
