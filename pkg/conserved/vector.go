package conserved

import (
	"sort"

	"github.com/pkg/errors"
)

// Vector is a contiguous homogeneous sequence of composite quantities
// sharing one concrete factor tuple. Factors of all elements live in a
// single flat slice, so element access is O(1) with no per-element
// allocation inside the container. The element count is tracked
// separately because the trivial group has factor width zero.
type Vector struct {
	width int // factors per element
	n     int
	proto Quantity
	data  []Factor
}

// NewVector returns a vector of n copies of val. For n > 0 the prototype
// fixes the factor tuple every later insertion must match; a vector that
// is empty adopts the tuple of the first element inserted into it.
func NewVector(n int, val Quantity) Vector {
	v := Vector{width: val.Len(), n: n, proto: val.Neutral()}
	v.data = make([]Factor, 0, n*v.width)
	for i := 0; i < n; i++ {
		v.data = append(v.data, val.factors...)
	}
	return v
}

// VectorOf builds a vector from the given quantities. All elements after
// the first must share its factor tuple.
func VectorOf(qs ...Quantity) (Vector, error) {
	if len(qs) == 0 {
		return Vector{}, nil
	}
	v := NewVector(0, qs[0])
	for _, q := range qs {
		if err := v.PushBack(q); err != nil {
			return Vector{}, err
		}
	}
	return v, nil
}

// Len reports the number of elements.
func (v Vector) Len() int { return v.n }

// Proto returns the neutral element of the vector's factor tuple.
func (v Vector) Proto() Quantity { return v.proto.Clone() }

// At returns a copy of the i-th element.
func (v Vector) At(i int) Quantity {
	if i < 0 || i >= v.n {
		panic(errors.Errorf("conserved: vector index %d out of range [0, %d)", i, v.n))
	}
	return NewQuantity(v.data[i*v.width : (i+1)*v.width]...)
}

// Set overwrites the i-th element. It fails with ErrTypeMismatch when q
// does not match the vector's factor tuple.
func (v *Vector) Set(i int, q Quantity) error {
	if !v.proto.SameType(q) {
		return errors.Wrapf(ErrTypeMismatch, "storing %v into a vector of %v", q, v.proto)
	}
	copy(v.data[i*v.width:(i+1)*v.width], q.factors)
	return nil
}

func (v *Vector) check(q Quantity) error {
	if v.n == 0 {
		// an empty vector adopts the first element's tuple.
		v.width = q.Len()
		v.proto = q.Neutral()
		v.data = v.data[:0]
		return nil
	}
	if !v.proto.SameType(q) {
		return errors.Wrapf(ErrTypeMismatch, "inserting %v into a vector of %v", q, v.proto)
	}
	return nil
}

// PushBack appends q. It fails with ErrTypeMismatch when q does not match
// the vector's factor tuple.
func (v *Vector) PushBack(q Quantity) error {
	if err := v.check(q); err != nil {
		return err
	}
	v.data = append(v.data, q.factors...)
	v.n++
	return nil
}

// Insert inserts q before position i, with the same type check as
// PushBack.
func (v *Vector) Insert(i int, q Quantity) error {
	if err := v.check(q); err != nil {
		return err
	}
	at := i * v.width
	v.data = append(v.data, q.factors...) // grow
	copy(v.data[at+v.width:], v.data[at:])
	copy(v.data[at:], q.factors)
	v.n++
	return nil
}

// Swap exchanges elements i and j.
func (v *Vector) Swap(i, j int) {
	a, b := v.data[i*v.width:(i+1)*v.width], v.data[j*v.width:(j+1)*v.width]
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
}

// Slice returns the sub-vector [lo, hi). The result shares storage with
// the receiver, like a Go slice expression.
func (v Vector) Slice(lo, hi int) Vector {
	return Vector{width: v.width, n: hi - lo, proto: v.proto, data: v.data[lo*v.width : hi*v.width]}
}

// Clone returns a vector with its own storage.
func (v Vector) Clone() Vector {
	out := Vector{width: v.width, n: v.n, proto: v.proto}
	out.data = make([]Factor, len(v.data))
	copy(out.data, v.data)
	return out
}

// All iterates the elements front to back.
func (v Vector) All() func(yield func(int, Quantity) bool) {
	return func(yield func(int, Quantity) bool) {
		for i := 0; i < v.n; i++ {
			if !yield(i, v.At(i)) {
				return
			}
		}
	}
}

// Backward iterates the elements back to front.
func (v Vector) Backward() func(yield func(int, Quantity) bool) {
	return func(yield func(int, Quantity) bool) {
		for i := v.n - 1; i >= 0; i-- {
			if !yield(i, v.At(i)) {
				return
			}
		}
	}
}

// Permute builds a new vector whose element stream is the source elements
// at positions perm[0], perm[1], ..., each repeated reps[j] times when
// reps is non-nil. Tensor reshape uses this to rebuild packed section
// quantity arrays.
func (v Vector) Permute(perm []int, reps []int) (Vector, error) {
	if reps != nil && len(reps) != len(perm) {
		return Vector{}, errors.Errorf("conserved: permute repetition list length %d does not match permutation length %d", len(reps), len(perm))
	}
	out := Vector{width: v.width, proto: v.proto}
	for j, p := range perm {
		if p < 0 || p >= v.n {
			return Vector{}, errors.Errorf("conserved: permutation index %d out of range [0, %d)", p, v.n)
		}
		r := 1
		if reps != nil {
			r = reps[j]
		}
		src := v.data[p*v.width : (p+1)*v.width]
		for k := 0; k < r; k++ {
			out.data = append(out.data, src...)
			out.n++
		}
	}
	return out, nil
}

// Sort orders the elements lexicographically in place.
func (v *Vector) Sort() {
	sort.Sort(byQuantity{v})
}

type byQuantity struct{ v *Vector }

func (s byQuantity) Len() int      { return s.v.n }
func (s byQuantity) Swap(i, j int) { s.v.Swap(i, j) }
func (s byQuantity) Less(i, j int) bool {
	w := s.v.width
	a, b := s.v.data[i*w:(i+1)*w], s.v.data[j*w:(j+1)*w]
	for k := range a {
		if a[k].Less(b[k]) {
			return true
		}
		if b[k].Less(a[k]) {
			return false
		}
	}
	return false
}
