package dense

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestConstructors(t *testing.T) {
	t.Run("zero init", func(t *testing.T) {
		z := New(tensor.Float64, 2, 3)
		assert.Equal(t, []int{2, 3}, z.Shape())
		assert.Equal(t, 0.0, z.At(1, 2))
	})

	t.Run("ones and like-constructors", func(t *testing.T) {
		o := Ones(tensor.Float32, 2, 2)
		assert.Equal(t, 1.0, o.At(0, 1))
		assert.Equal(t, 0.0, o.ZerosLike().At(1, 1))
		assert.Equal(t, o.Shape(), o.RandLike().Shape())
	})

	t.Run("from backing shares data", func(t *testing.T) {
		b := []float64{1, 2, 3, 4}
		f := FromBacking(b, 2, 2)
		b[3] = 9
		assert.Equal(t, 9.0, f.At(1, 1))
	})

	t.Run("handle copies share, clones do not", func(t *testing.T) {
		a := FromBacking([]float64{1, 2}, 2)
		view := a
		cl := a.Clone()
		view.SetAt(5, 0)
		assert.Equal(t, 5.0, a.At(0))
		assert.Equal(t, 1.0, cl.At(0))
	})
}

func TestPermuteReshape(t *testing.T) {
	a := FromBacking([]float64{1, 2, 3, 4, 5, 6}, 2, 3)

	t.Run("permute", func(t *testing.T) {
		p := a.Permute(1, 0)
		assert.Equal(t, []int{3, 2}, p.Shape())
		assert.Equal(t, a.At(0, 2), p.At(2, 0))
		rt := p.Permute(1, 0)
		assert.True(t, Allclose(a, rt, 0, 0))
	})

	t.Run("identity permute", func(t *testing.T) {
		p := a.Permute(0, 1)
		assert.True(t, Allclose(a, p, 0, 0))
	})

	t.Run("reshape round trip", func(t *testing.T) {
		r := a.Reshape(3, 2)
		assert.Equal(t, []int{3, 2}, r.Shape())
		assert.Equal(t, 4.0, r.At(1, 1)) // row-major order preserved
		assert.True(t, Allclose(a, r.Reshape(2, 3), 0, 0))
	})
}

func TestArithmetic(t *testing.T) {
	a := FromBacking([]float64{1, 2, 3, 4}, 2, 2)
	b := FromBacking([]float64{10, 20, 30, 40}, 2, 2)

	t.Run("scaled add", func(t *testing.T) {
		c := a.Add(b, 2, 0.5)
		assert.Equal(t, 2.0*1+0.5*10, c.At(0, 0))
		assert.Equal(t, 2.0*4+0.5*40, c.At(1, 1))
	})

	t.Run("accumulate in place", func(t *testing.T) {
		c := a.Clone()
		c.AccumulateInto(b, 1, 0.1)
		assert.InDelta(t, 1+1.0, c.At(0, 0), 1e-12)
	})

	t.Run("scale and add scalar", func(t *testing.T) {
		assert.Equal(t, 2.0, a.Scale(2).At(0, 0))
		assert.Equal(t, 6.0, a.AddScalar(2).At(1, 1))
	})

	t.Run("norms", func(t *testing.T) {
		assert.InDelta(t, 5.477225575, a.Norm(), 1e-8)
		assert.Equal(t, 4.0, a.InfNorm())
	})
}

func TestRegions(t *testing.T) {
	dst := New(tensor.Float64, 4, 4)
	src := FromBacking([]float64{1, 2, 3, 4}, 2, 2)
	dst.WriteRegion([]int{1, 2}, src)
	assert.Equal(t, 1.0, dst.At(1, 2))
	assert.Equal(t, 4.0, dst.At(2, 3))
	assert.Equal(t, 0.0, dst.At(0, 0))

	back := dst.ReadRegion([]int{1, 2}, []int{2, 2})
	assert.True(t, Allclose(src, back, 0, 0))
}

func TestTensordot(t *testing.T) {
	a := FromBacking([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b := FromBacking([]float64{1, 0, 0, 1, 1, 1}, 3, 2)

	t.Run("matrix product", func(t *testing.T) {
		c, err := Tensordot(a, b, []int{1}, []int{0})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2}, c.Shape())
		assert.Equal(t, 1.0*1+2*0+3*1, c.At(0, 0))
		assert.Equal(t, 1.0*0+2*1+3*1, c.At(0, 1))
	})

	t.Run("full contraction", func(t *testing.T) {
		c, err := Tensordot(a, a, []int{0, 1}, []int{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 91.0, c.Item(), 1e-12)
	})

	t.Run("outer product", func(t *testing.T) {
		x := FromBacking([]float64{1, 2}, 2)
		y := FromBacking([]float64{3, 4, 5}, 3)
		c, err := Tensordot(x, y, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, c.Shape())
		assert.Equal(t, 10.0, c.At(1, 2))
	})

	t.Run("tensorgdot accumulates", func(t *testing.T) {
		c := Ones(tensor.Float64, 2, 2)
		err := Tensorgdot(c, a, b, []int{1}, []int{0}, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, 2.0+4, c.At(0, 0))
	})
}

func TestSVD(t *testing.T) {
	a := FromBacking([]float64{3, 0, 0, 0, 2, 0}, 2, 3)

	u, s, v, err := SVD(a)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, u.Shape())
	assert.Equal(t, []int{3, 2}, v.Shape())
	sv := s.Float64s()
	assert.InDelta(t, 3.0, sv[0], 1e-12)
	assert.InDelta(t, 2.0, sv[1], 1e-12)

	t.Run("reconstruction", func(t *testing.T) {
		rec := reconstruct(u, s, v)
		assert.True(t, Allclose(a, rec, 1e-9, 1e-9))
	})

	t.Run("split svd reconstruction", func(t *testing.T) {
		x := Rand(tensor.Float64, 2, 3, 4)
		u, s, v, err := SplitSVD(x, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 4}, u.Shape())
		assert.Equal(t, []int{4, 4}, v.Shape())
		m := u.Reshape(6, 4)
		rec := reconstruct(m, s, v).Reshape(2, 3, 4)
		assert.True(t, Allclose(x, rec, 1e-9, 1e-9))
	})
}

func reconstruct(u, s, v Tensor) Tensor {
	k := s.Shape()[0]
	us := u.Clone()
	sh := us.Shape()
	sv := s.Float64s()
	for i := 0; i < sh[0]; i++ {
		for j := 0; j < k; j++ {
			us.SetAt(us.At(i, j)*sv[j], i, j)
		}
	}
	out, err := Tensordot(us, v, []int{1}, []int{1})
	if err != nil {
		panic(err)
	}
	return out
}

func TestSymEig(t *testing.T) {
	a := FromBacking([]float64{2, 1, 1, 2}, 2, 2)
	e, u, err := SymEig(a)
	require.NoError(t, err)
	ev := e.Float64s()
	assert.InDelta(t, 3.0, ev[0], 1e-12)
	assert.InDelta(t, 1.0, ev[1], 1e-12)

	// a*u_col = e*u_col for the dominant pair
	x0, x1 := u.At(0, 0), u.At(1, 0)
	assert.InDelta(t, 3*x0, 2*x0+1*x1, 1e-12)
	assert.InDelta(t, 3*x1, 1*x0+2*x1, 1e-12)
}

func TestTruncation(t *testing.T) {
	t.Run("rank selection", func(t *testing.T) {
		d := []float64{1, 0.5, 1e-4, 1e-9}
		assert.Equal(t, 3, TruncationRank(d, 1e-12, 2, 1, 0))
		assert.Equal(t, 2, TruncationRank(d, 1e-6, 2, 1, 0))
		assert.Equal(t, 1, TruncationRank(d, 10, 2, 1, 0))
		assert.Equal(t, 2, TruncationRank(d, 10, 2, 2, 0)) // min size wins
		assert.Equal(t, 1, TruncationRank(d, 0, 2, 1, 1))  // max size wins
		assert.Equal(t, 4, TruncationRank(d, 0, 2, 4, 0))  // idempotent at tol 0
	})

	t.Run("min size zero admits an empty spectrum", func(t *testing.T) {
		d := []float64{1, 0.5, 1e-4}
		// the tail sum at k=0 is already below tol, so nothing is kept
		assert.Equal(t, 0, TruncationRank(d, 10, 2, 0, 0))
		// a binding tolerance still keeps the head
		assert.Equal(t, 1, TruncationRank(d, 1, 2, 0, 0))
	})

	t.Run("truncate slices all factors", func(t *testing.T) {
		a := Rand(tensor.Float64, 5, 4)
		u, s, v, err := SVD(a)
		require.NoError(t, err)
		tu, ts, tv := Truncate(u, s, v, 0, 2, 2, 2)
		assert.Equal(t, []int{5, 2}, tu.Shape())
		assert.Equal(t, []int{2}, ts.Shape())
		assert.Equal(t, []int{4, 2}, tv.Shape())
	})
}

func TestNoGrad(t *testing.T) {
	SetGradEnabled(true)
	restore := NoGrad()
	assert.False(t, GradEnabled())
	restore()
	assert.True(t, GradEnabled())
	SetGradEnabled(false)
}
