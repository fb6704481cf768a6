package dense

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Tensordot contracts dimsA of a with dimsB of b. The result carries the
// remaining dimensions of a followed by the remaining dimensions of b. An
// empty dimension list yields the tensor product.
func Tensordot(a, b Tensor, dimsA, dimsB []int) (Tensor, error) {
	if len(dimsA) != len(dimsB) {
		return Tensor{}, errors.Wrapf(ErrBackend, "tensordot: %d contracted dims vs %d", len(dimsA), len(dimsB))
	}
	if len(dimsA) == 0 {
		return outerProduct(a, b), nil
	}
	if len(dimsA) == a.Dims() && len(dimsB) == b.Dims() {
		return fullContraction(a, b, dimsA, dimsB), nil
	}
	out, err := a.d.TensorMul(b.d, dimsA, dimsB)
	if err != nil {
		return Tensor{}, errors.Wrapf(ErrBackend, "tensordot dims %v %v: %v", dimsA, dimsB, err)
	}
	return Tensor{d: out}, nil
}

// fullContraction handles the all-axes case, which reduces to a dot
// product once both operands are permuted into pairing order. The result
// is a rank-1 tensor with a single element.
func fullContraction(a, b Tensor, dimsA, dimsB []int) Tensor {
	ap := a.Permute(dimsA...).Float64s()
	bp := b.Permute(dimsB...).Float64s()
	var sum float64
	for i := range ap {
		sum += ap[i] * bp[i]
	}
	return fromFloat64s(a.Dtype(), []float64{sum}, 1)
}

func outerProduct(a, b Tensor) Tensor {
	shape := append(a.Shape(), b.Shape()...)
	af, bf := a.Float64s(), b.Float64s()
	out := make([]float64, len(af)*len(bf))
	for i, x := range af {
		row := out[i*len(bf) : (i+1)*len(bf)]
		for j, y := range bf {
			row[j] = x * y
		}
	}
	return fromFloat64s(a.Dtype(), out, shape...)
}

// Tensorgdot computes c <- beta*c + alpha*tensordot(a, b, dimsA, dimsB)
// in place. The contraction result must have c's shape.
func Tensorgdot(c, a, b Tensor, dimsA, dimsB []int, beta, alpha float64) error {
	t, err := Tensordot(a, b, dimsA, dimsB)
	if err != nil {
		return err
	}
	ts, cs := t.Shape(), c.Shape()
	if len(ts) != len(cs) {
		return errors.Wrapf(ErrBackend, "tensorgdot: result rank %d vs accumulator rank %d", len(ts), len(cs))
	}
	for i := range ts {
		if ts[i] != cs[i] {
			return errors.Wrapf(ErrBackend, "tensorgdot: result shape %v vs accumulator %v", ts, cs)
		}
	}
	c.AccumulateInto(t, beta, alpha)
	return nil
}

// Addmm computes c <- beta*c + alpha*a.b for rank-2 tensors.
func Addmm(c, a, b Tensor, beta, alpha float64) error {
	return Tensorgdot(c, a, b, []int{1}, []int{0}, beta, alpha)
}

// MatMul multiplies two rank-2 tensors.
func MatMul(a, b Tensor) (Tensor, error) {
	return Tensordot(a, b, []int{1}, []int{0})
}

// SVD computes the thin singular value decomposition of a rank-2 tensor:
// a = u * diag(s) * v^T with u of shape (m, k), s of length k and v of
// shape (n, k), k = min(m, n). Singular values come out non-increasing.
func SVD(a Tensor) (u, s, v Tensor, err error) {
	shape := a.Shape()
	if len(shape) != 2 {
		return u, s, v, errors.Wrapf(ErrBackend, "svd on rank-%d tensor", len(shape))
	}
	m, n := shape[0], shape[1]
	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(m, n, a.Float64s()), mat.SVDThin); !ok {
		return u, s, v, errors.Wrap(ErrBackend, "svd did not converge")
	}
	k := m
	if n < k {
		k = n
	}
	var um, vm mat.Dense
	svd.UTo(&um)
	svd.VTo(&vm)
	vals := svd.Values(nil)

	dt := a.Dtype()
	u = fromFloat64s(dt, mat.DenseCopyOf(&um).RawMatrix().Data, m, k)
	v = fromFloat64s(dt, mat.DenseCopyOf(&vm).RawMatrix().Data, n, k)
	s = fromFloat64s(dt, vals, k)
	return u, s, v, nil
}

// SymEig computes the eigendecomposition of a symmetric rank-2 tensor:
// a = u * diag(e) * u^T. Eigenpairs are returned ordered by non-increasing
// eigenvalue magnitude so that truncation drops the smallest ones.
func SymEig(a Tensor) (e, u Tensor, err error) {
	shape := a.Shape()
	if len(shape) != 2 || shape[0] != shape[1] {
		return e, u, errors.Wrapf(ErrBackend, "symeig on tensor of shape %v", shape)
	}
	n := shape[0]
	var es mat.EigenSym
	if ok := es.Factorize(mat.NewSymDense(n, a.Float64s()), true); !ok {
		return e, u, errors.Wrap(ErrBackend, "symeig did not converge")
	}
	vals := es.Values(nil)
	var vm mat.Dense
	es.VectorsTo(&vm)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return math.Abs(vals[order[i]]) > math.Abs(vals[order[j]])
	})
	evals := make([]float64, n)
	evecs := make([]float64, n*n)
	for col, src := range order {
		evals[col] = vals[src]
		for row := 0; row < n; row++ {
			evecs[row*n+col] = vm.At(row, src)
		}
	}
	dt := a.Dtype()
	e = fromFloat64s(dt, evals, n)
	u = fromFloat64s(dt, evecs, n, n)
	return e, u, nil
}

// SplitSVD reshapes a around the split point into a matrix, decomposes it,
// and folds the factors back: u carries the leading dims plus the bond, v
// the trailing dims plus the bond.
func SplitSVD(a Tensor, split int) (u, s, v Tensor, err error) {
	shape := a.Shape()
	if split <= 0 || split >= len(shape) {
		return u, s, v, errors.Wrapf(ErrBackend, "svd split %d out of range for rank %d", split, len(shape))
	}
	left, right := 1, 1
	for _, d := range shape[:split] {
		left *= d
	}
	for _, d := range shape[split:] {
		right *= d
	}
	u, s, v, err = SVD(a.Reshape(left, right))
	if err != nil {
		return u, s, v, err
	}
	bond := s.Shape()[0]
	u = u.Reshape(append(append([]int{}, shape[:split]...), bond)...)
	v = v.Reshape(append(append([]int{}, shape[split:]...), bond)...)
	return u, s, v, nil
}

// SplitSymEig is SplitSVD's analogue for the symmetric eigenproblem.
func SplitSymEig(a Tensor, split int) (e, u Tensor, err error) {
	shape := a.Shape()
	if split <= 0 || split >= len(shape) {
		return e, u, errors.Wrapf(ErrBackend, "symeig split %d out of range for rank %d", split, len(shape))
	}
	left := 1
	for _, d := range shape[:split] {
		left *= d
	}
	e, u, err = SymEig(a.Reshape(left, left))
	if err != nil {
		return e, u, err
	}
	u = u.Reshape(append(append([]int{}, shape[:split]...), left)...)
	return e, u, nil
}

// TruncationRank picks the number of values to keep from a non-increasing
// magnitude spectrum: the smallest k such that sum_{j>=k} |d_j|^pow <= tol,
// clamped to [minSize, maxSize].
func TruncationRank(d []float64, tol, pow float64, minSize, maxSize int) int {
	n := len(d)
	k := n
	tail := 0.0
	for k > 0 {
		tail += math.Pow(math.Abs(d[k-1]), pow)
		if tail > tol {
			break
		}
		k--
	}
	if k < minSize {
		k = minSize
	}
	if maxSize > 0 && k > maxSize {
		k = maxSize
	}
	if k > n {
		k = n
	}
	return k
}

// Truncate drops the trailing singular triplets of (u, s, v) according to
// TruncationRank applied to s.
func Truncate(u, s, v Tensor, tol, pow float64, minSize, maxSize int) (Tensor, Tensor, Tensor) {
	k := TruncationRank(s.Float64s(), tol, pow, minSize, maxSize)
	return NarrowLast(u, k), NarrowLast(s, k), NarrowLast(v, k)
}

// NarrowLast keeps the first k entries of the last dimension.
func NarrowLast(t Tensor, k int) Tensor {
	shape := t.Shape()
	last := len(shape) - 1
	if shape[last] == k {
		return t
	}
	offsets := make([]int, len(shape))
	sizes := append([]int{}, shape...)
	sizes[last] = k
	return t.ReadRegion(offsets, sizes)
}
