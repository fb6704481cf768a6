package dense

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrBackend reports a failure propagated from the dense backend.
var ErrBackend = errors.New("dense: backend failure")

// Tensor is a lightweight value handle around gorgonia's tensor.Dense.
// Copying the handle shares the buffer; Clone copies the data.
type Tensor struct {
	d *tensor.Dense
}

// Nil reports whether the handle is empty.
func (t Tensor) Nil() bool { return t.d == nil }

// Dense exposes the wrapped gorgonia tensor.
func (t Tensor) Dense() *tensor.Dense { return t.d }

// New creates a zero-initialized tensor of the given scalar type and shape.
func New(dt tensor.Dtype, shape ...int) Tensor {
	return Tensor{d: tensor.New(tensor.Of(dt), tensor.WithShape(shape...))}
}

// Ones creates a one-filled tensor of the given scalar type and shape.
func Ones(dt tensor.Dtype, shape ...int) Tensor {
	return Tensor{d: tensor.Ones(dt, shape...)}
}

// Rand creates a tensor with uniformly distributed random entries.
func Rand(dt tensor.Dtype, shape ...int) Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return Tensor{d: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(tensor.Random(dt, size)))}
}

// FromBacking wraps an existing backing slice in a tensor of the given
// shape. The slice is used directly, not copied.
func FromBacking(backing interface{}, shape ...int) Tensor {
	return Tensor{d: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))}
}

// FromDense wraps a gorgonia tensor.
func FromDense(d *tensor.Dense) Tensor { return Tensor{d: d} }

// ZerosLike returns a zero tensor with the receiver's dtype and shape.
func (t Tensor) ZerosLike() Tensor { return New(t.Dtype(), t.Shape()...) }

// OnesLike returns a one-filled tensor with the receiver's dtype and shape.
func (t Tensor) OnesLike() Tensor { return Ones(t.Dtype(), t.Shape()...) }

// RandLike returns a random tensor with the receiver's dtype and shape.
func (t Tensor) RandLike() Tensor { return Rand(t.Dtype(), t.Shape()...) }

// Dtype reports the scalar type.
func (t Tensor) Dtype() tensor.Dtype { return t.d.Dtype() }

// Shape returns a copy of the tensor dimensions.
func (t Tensor) Shape() []int {
	s := t.d.Shape()
	out := make([]int, len(s))
	copy(out, s)
	return out
}

// Dims reports the rank.
func (t Tensor) Dims() int { return t.d.Dims() }

// Size reports the total number of elements.
func (t Tensor) Size() int { return t.d.Size() }

// Clone returns a tensor with its own copy of the data.
func (t Tensor) Clone() Tensor {
	return Tensor{d: t.d.Clone().(*tensor.Dense)}
}

// At reads the element at the given coordinates as float64.
func (t Tensor) At(coords ...int) float64 {
	v, err := t.d.At(coords...)
	if err != nil {
		panic(errors.Wrapf(ErrBackend, "at %v: %v", coords, err))
	}
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	default:
		panic(errors.Wrapf(ErrBackend, "unsupported scalar type %T", v))
	}
}

// SetAt writes the element at the given coordinates, converting to the
// tensor's scalar type.
func (t Tensor) SetAt(v float64, coords ...int) {
	var err error
	switch t.Dtype() {
	case tensor.Float32:
		err = t.d.SetAt(float32(v), coords...)
	default:
		err = t.d.SetAt(v, coords...)
	}
	if err != nil {
		panic(errors.Wrapf(ErrBackend, "set at %v: %v", coords, err))
	}
}

// Item extracts the value of a single-element tensor.
func (t Tensor) Item() float64 {
	if t.Size() != 1 {
		panic(errors.Wrapf(ErrBackend, "item on tensor of %d elements", t.Size()))
	}
	coords := make([]int, t.Dims())
	return t.At(coords...)
}

// Permute returns a copy with dimensions reordered by perm.
func (t Tensor) Permute(perm ...int) Tensor {
	c := t.d.Clone().(*tensor.Dense)
	if err := c.T(perm...); err != nil {
		if noop, ok := err.(tensor.NoOpError); ok && noop.NoOp() {
			return Tensor{d: c} // identity permutation
		}
		panic(errors.Wrapf(ErrBackend, "permute %v: %v", perm, err))
	}
	if err := c.Transpose(); err != nil {
		panic(errors.Wrapf(ErrBackend, "permute %v: %v", perm, err))
	}
	return Tensor{d: c}
}

// Reshape returns a copy with the given shape. The element count must be
// preserved.
func (t Tensor) Reshape(shape ...int) Tensor {
	c := t.d.Clone().(*tensor.Dense)
	if err := c.Reshape(shape...); err != nil {
		panic(errors.Wrapf(ErrBackend, "reshape to %v: %v", shape, err))
	}
	return Tensor{d: c}
}

// Conj returns the complex conjugate. Real scalar types conjugate to
// themselves, so this is a clone.
func (t Tensor) Conj() Tensor { return t.Clone() }

// Transpose returns a copy with dimensions i and j exchanged.
func (t Tensor) Transpose(i, j int) Tensor {
	perm := make([]int, t.Dims())
	for k := range perm {
		perm[k] = k
	}
	perm[i], perm[j] = perm[j], perm[i]
	return t.Permute(perm...)
}

// Add returns alpha*t + beta*o. Shapes must match.
func (t Tensor) Add(o Tensor, alpha, beta float64) Tensor {
	out := t.ZerosLike()
	switch t.Dtype() {
	case tensor.Float32:
		dst := out.d.Data().([]float32)
		a := t.d.Data().([]float32)
		b := o.d.Data().([]float32)
		al, be := float32(alpha), float32(beta)
		for i := range dst {
			dst[i] = al*a[i] + be*b[i]
		}
	default:
		dst := out.d.Data().([]float64)
		a := t.d.Data().([]float64)
		b := o.d.Data().([]float64)
		for i := range dst {
			dst[i] = alpha*a[i] + beta*b[i]
		}
	}
	return out
}

// AccumulateInto computes t <- beta*t + alpha*o in place.
func (t Tensor) AccumulateInto(o Tensor, beta, alpha float64) {
	switch t.Dtype() {
	case tensor.Float32:
		dst := t.d.Data().([]float32)
		src := o.d.Data().([]float32)
		al, be := float32(alpha), float32(beta)
		for i := range dst {
			dst[i] = be*dst[i] + al*src[i]
		}
	default:
		dst := t.d.Data().([]float64)
		src := o.d.Data().([]float64)
		for i := range dst {
			dst[i] = beta*dst[i] + alpha*src[i]
		}
	}
}

// Scale returns s*t.
func (t Tensor) Scale(s float64) Tensor {
	out := t.Clone()
	out.ScaleInPlace(s)
	return out
}

// ScaleInPlace multiplies every element by s.
func (t Tensor) ScaleInPlace(s float64) {
	switch t.Dtype() {
	case tensor.Float32:
		d := t.d.Data().([]float32)
		f := float32(s)
		for i := range d {
			d[i] *= f
		}
	default:
		d := t.d.Data().([]float64)
		for i := range d {
			d[i] *= s
		}
	}
}

// AddScalar returns t with s added to every element.
func (t Tensor) AddScalar(s float64) Tensor {
	out := t.Clone()
	switch t.Dtype() {
	case tensor.Float32:
		d := out.d.Data().([]float32)
		f := float32(s)
		for i := range d {
			d[i] += f
		}
	default:
		d := out.d.Data().([]float64)
		for i := range d {
			d[i] += s
		}
	}
	return out
}

// Norm computes the 2-norm over all elements.
func (t Tensor) Norm() float64 {
	switch t.Dtype() {
	case tensor.Float32:
		var sum float32
		for _, v := range t.d.Data().([]float32) {
			sum += v * v
		}
		return float64(math32.Sqrt(sum))
	default:
		var sum float64
		for _, v := range t.d.Data().([]float64) {
			sum += v * v
		}
		return math.Sqrt(sum)
	}
}

// InfNorm computes the largest absolute element value.
func (t Tensor) InfNorm() float64 {
	var max float64
	switch t.Dtype() {
	case tensor.Float32:
		for _, v := range t.d.Data().([]float32) {
			a := float64(v)
			if a < 0 {
				a = -a
			}
			if a > max {
				max = a
			}
		}
	default:
		for _, v := range t.d.Data().([]float64) {
			a := v
			if a < 0 {
				a = -a
			}
			if a > max {
				max = a
			}
		}
	}
	return max
}

// Allclose reports whether the two tensors match elementwise within
// |a-b| <= atol + rtol*|b|.
func Allclose(a, b Tensor, rtol, atol float64) bool {
	as, bs := a.Shape(), b.Shape()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	af := a.Float64s()
	bf := b.Float64s()
	for i := range af {
		d := af[i] - bf[i]
		if d < 0 {
			d = -d
		}
		m := bf[i]
		if m < 0 {
			m = -m
		}
		if d > atol+rtol*m {
			return false
		}
	}
	return true
}

// Float64s returns the data widened to float64. The result is a fresh
// slice for float32 tensors and the live backing slice for float64 ones.
func (t Tensor) Float64s() []float64 {
	switch t.Dtype() {
	case tensor.Float32:
		src := t.d.Data().([]float32)
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out
	default:
		return t.d.Data().([]float64)
	}
}

// fromFloat64s builds a tensor of the given dtype and shape from float64
// data, narrowing when needed.
func fromFloat64s(dt tensor.Dtype, data []float64, shape ...int) Tensor {
	switch dt {
	case tensor.Float32:
		b := make([]float32, len(data))
		for i, v := range data {
			b[i] = float32(v)
		}
		return FromBacking(b, shape...)
	default:
		b := make([]float64, len(data))
		copy(b, data)
		return FromBacking(b, shape...)
	}
}

// Index extracts the sub-tensor selected by per-dimension [lo, hi)
// ranges into a fresh tensor.
func (t Tensor) Index(ranges [][2]int) Tensor {
	offsets := make([]int, len(ranges))
	sizes := make([]int, len(ranges))
	for d, r := range ranges {
		offsets[d] = r[0]
		sizes[d] = r[1] - r[0]
	}
	return t.ReadRegion(offsets, sizes)
}

// IndexPut writes rhs into the region selected by per-dimension
// [lo, hi) ranges.
func (t Tensor) IndexPut(ranges [][2]int, rhs Tensor) {
	offsets := make([]int, len(ranges))
	for d, r := range ranges {
		offsets[d] = r[0]
	}
	t.WriteRegion(offsets, rhs)
}

// WriteRegion copies src into the receiver at the given per-dimension
// offsets. The source shape must fit inside the receiver.
func (t Tensor) WriteRegion(offsets []int, src Tensor) {
	if src.Size() == 0 {
		return
	}
	shape := src.Shape()
	coords := make([]int, len(shape))
	dst := make([]int, len(shape))
	for {
		for i := range coords {
			dst[i] = offsets[i] + coords[i]
		}
		t.SetAt(src.At(coords...), dst...)
		if !odometer(coords, shape) {
			return
		}
	}
}

// ReadRegion extracts the sub-tensor starting at offsets with the given
// sizes into a fresh tensor.
func (t Tensor) ReadRegion(offsets, sizes []int) Tensor {
	out := New(t.Dtype(), sizes...)
	if out.Size() == 0 {
		return out
	}
	coords := make([]int, len(sizes))
	src := make([]int, len(sizes))
	for {
		for i := range coords {
			src[i] = offsets[i] + coords[i]
		}
		out.SetAt(t.At(src...), coords...)
		if !odometer(coords, sizes) {
			return out
		}
	}
}

// odometer advances coords through the row-major index space of shape and
// reports whether there is another index. Zero-size shapes yield the
// single empty index once, which matches how scalar loops use it.
func odometer(coords, shape []int) bool {
	for i := len(coords) - 1; i >= 0; i-- {
		coords[i]++
		if coords[i] < shape[i] {
			return true
		}
		coords[i] = 0
	}
	return false
}
