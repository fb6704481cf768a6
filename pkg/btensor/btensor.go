package btensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/itohio/quantit/pkg/conserved"
	"github.com/itohio/quantit/pkg/dense"
)

// BTensor is a block-sparse tensor: a shape descriptor plus an ordered
// store of dense blocks, all of one scalar type. The tensor owns its
// block store; the dense buffers inside are shared-ownership handles so
// that views can alias them.
type BTensor struct {
	shape  Shape
	blocks blockList
	dt     tensor.Dtype
}

// New creates an empty block tensor over the given shape. All allowed
// blocks are implicitly zero until allocated.
func New(shape Shape, dt tensor.Dtype) BTensor {
	return BTensor{shape: shape.clone(), dt: dt}
}

// Shape returns the tensor's shape descriptor.
func (t *BTensor) Shape() Shape { return t.shape }

// Dtype reports the scalar type used for block allocation.
func (t *BTensor) Dtype() tensor.Dtype { return t.dt }

// Dim reports the rank.
func (t *BTensor) Dim() int { return t.shape.Dim() }

// SelectionRule returns a copy of the selection rule.
func (t *BTensor) SelectionRule() conserved.Quantity { return t.shape.SelectionRule() }

// NumBlocks reports the number of stored blocks.
func (t *BTensor) NumBlocks() int { return t.blocks.len() }

// HasBlock reports whether a block is stored at ix.
func (t *BTensor) HasBlock(ix Index) bool {
	_, ok := t.blocks.at(ix)
	return ok
}

// BlockAt returns the block stored at ix. It fails with ErrNotFound when
// the block is absent, whether or not it would be allowed.
func (t *BTensor) BlockAt(ix Index) (dense.Tensor, error) {
	if err := t.shape.validIndex(ix); err != nil {
		return dense.Tensor{}, err
	}
	b, ok := t.blocks.at(ix)
	if !ok {
		return dense.Tensor{}, errors.Wrapf(ErrNotFound, "no block at %v", ix)
	}
	return b, nil
}

// Block returns the block at ix, allocating a zero-initialized dense
// tensor of the prescribed shape when absent. It fails with
// ErrSelectionRule when ix addresses a disallowed block.
func (t *BTensor) Block(ix Index) (dense.Tensor, error) {
	if err := t.shape.validIndex(ix); err != nil {
		return dense.Tensor{}, err
	}
	if b, ok := t.blocks.at(ix); ok {
		return b, nil
	}
	if !t.shape.BlockAllowed(ix) {
		return dense.Tensor{}, errors.Wrapf(ErrSelectionRule, "block %v has quantity %v, selection rule is %v",
			ix, t.shape.BlockQtt(ix), t.shape.rule)
	}
	b := dense.New(t.dt, t.shape.BlockShape(ix)...)
	t.blocks.put(ix, b)
	return b, nil
}

// SetBlock stores b at ix after validating the selection rule and the
// dense shape.
func (t *BTensor) SetBlock(ix Index, b dense.Tensor) error {
	if err := t.shape.validIndex(ix); err != nil {
		return err
	}
	if !t.shape.BlockAllowed(ix) {
		return errors.Wrapf(ErrSelectionRule, "block %v has quantity %v, selection rule is %v",
			ix, t.shape.BlockQtt(ix), t.shape.rule)
	}
	want := t.shape.BlockShape(ix)
	got := b.Shape()
	if len(got) != len(want) {
		return errors.Wrapf(ErrShapeMismatch, "block %v: dense rank %d vs %d", ix, len(got), len(want))
	}
	for d := range want {
		if got[d] != want[d] {
			return errors.Wrapf(ErrShapeMismatch, "block %v: dense shape %v vs prescribed %v", ix, got, want)
		}
	}
	t.blocks.put(ix, b)
	return nil
}

// Reserve pre-sizes the block store.
func (t *BTensor) Reserve(n int) { t.blocks.reserve(n) }

// ShrinkToFit releases spare block-store capacity.
func (t *BTensor) ShrinkToFit() { t.blocks.shrink() }

// Blocks iterates the stored blocks in lexicographic index order.
func (t *BTensor) Blocks() func(yield func(Index, dense.Tensor) bool) {
	return func(yield func(Index, dense.Tensor) bool) {
		for _, e := range t.blocks.entries {
			if !yield(e.idx, e.t) {
				return
			}
		}
	}
}

// Clone returns a deep copy: shape, store and dense data.
func (t *BTensor) Clone() BTensor {
	out := New(t.shape, t.dt)
	out.blocks.reserve(t.blocks.len())
	for _, e := range t.blocks.entries {
		out.blocks.put(e.idx.clone(), e.t.Clone())
	}
	return out
}

// CheckTensor returns a non-empty diagnostic when any invariant is
// violated: disallowed block present, dense shape mismatch, broken store
// ordering or duplicate keys.
func (t *BTensor) CheckTensor() string {
	var b strings.Builder
	var prev Index
	for i, e := range t.blocks.entries {
		if err := t.shape.validIndex(e.idx); err != nil {
			fmt.Fprintf(&b, "entry %d: invalid index %v\n", i, e.idx)
			continue
		}
		if i > 0 {
			switch lexCompare(prev, e.idx) {
			case 0:
				fmt.Fprintf(&b, "entry %d: duplicate key %v\n", i, e.idx)
			case 1:
				fmt.Fprintf(&b, "entry %d: ordering broken at %v\n", i, e.idx)
			}
		}
		prev = e.idx
		if !t.shape.BlockAllowed(e.idx) {
			fmt.Fprintf(&b, "entry %d: disallowed block %v with quantity %v vs rule %v\n",
				i, e.idx, t.shape.BlockQtt(e.idx), t.shape.rule)
		}
		want := t.shape.BlockShape(e.idx)
		got := e.t.Shape()
		if len(want) == 0 {
			// scalar block of a rank-0 tensor; the backend may report it
			// as shape () or (1)
			if e.t.Size() != 1 {
				fmt.Fprintf(&b, "entry %d: scalar block holds %d elements\n", i, e.t.Size())
			}
			continue
		}
		if len(got) != len(want) {
			fmt.Fprintf(&b, "entry %d: block %v rank %d vs prescribed %d\n", i, e.idx, len(got), len(want))
			continue
		}
		for d := range want {
			if got[d] != want[d] {
				fmt.Fprintf(&b, "entry %d: block %v shape %v vs prescribed %v\n", i, e.idx, got, want)
				break
			}
		}
	}
	return b.String()
}

// Validate turns CheckTensor diagnostics into an ErrCorruptTensor.
func (t *BTensor) Validate() error {
	if diag := t.CheckTensor(); diag != "" {
		return errors.Wrap(ErrCorruptTensor, diag)
	}
	return nil
}

// ToDense materializes the tensor, zero-filling absent and disallowed
// blocks.
func (t *BTensor) ToDense() dense.Tensor {
	if t.Dim() == 0 {
		out := dense.New(t.dt, 1)
		if len(t.blocks.entries) == 1 {
			out.SetAt(t.blocks.entries[0].t.Item(), 0)
		}
		return out
	}
	extents := make([]int, t.Dim())
	for d := range extents {
		extents[d] = t.shape.TotalExtent(d)
	}
	out := dense.New(t.dt, extents...)
	offsets := make([]int, t.Dim())
	for _, e := range t.blocks.entries {
		for d, k := range e.idx {
			offsets[d] = t.shape.SectionOffset(d, k)
		}
		out.WriteRegion(offsets, e.t)
	}
	return out
}

// FromDense slices a dense tensor along the shape's section partitioning
// and keeps every slice whose infinity norm exceeds cutoff, provided the
// slice's block is allowed; out-of-rule slices are discarded silently.
func FromDense(shape Shape, d dense.Tensor, cutoff float64) (BTensor, error) {
	got := d.Shape()
	if len(got) != shape.Dim() {
		return BTensor{}, errors.Wrapf(ErrShapeMismatch, "dense rank %d vs shape rank %d", len(got), shape.Dim())
	}
	for dim := range got {
		if got[dim] != shape.TotalExtent(dim) {
			return BTensor{}, errors.Wrapf(ErrShapeMismatch, "dense extent %d vs %d in dim %d", got[dim], shape.TotalExtent(dim), dim)
		}
	}
	out := New(shape, d.Dtype())
	forEachBlockIndex(shape, func(ix Index) {
		sizes := shape.BlockShape(ix)
		offsets := make([]int, len(ix))
		for dim, k := range ix {
			offsets[dim] = shape.SectionOffset(dim, k)
		}
		slice := d.ReadRegion(offsets, sizes)
		if slice.Size() == 0 || slice.InfNorm() <= cutoff {
			return
		}
		if shape.BlockAllowed(ix) {
			out.blocks.put(ix.clone(), slice)
		}
	})
	return out, nil
}

// FromDenseInferRule is FromDense with the selection rule taken from the
// first slice above the cutoff.
func FromDenseInferRule(shape Shape, d dense.Tensor, cutoff float64) (BTensor, error) {
	inferred := shape
	found := false
	forEachBlockIndex(shape, func(ix Index) {
		if found {
			return
		}
		sizes := shape.BlockShape(ix)
		offsets := make([]int, len(ix))
		for dim, k := range ix {
			offsets[dim] = shape.SectionOffset(dim, k)
		}
		slice := d.ReadRegion(offsets, sizes)
		if slice.Size() > 0 && slice.InfNorm() > cutoff {
			inferred = shape.WithRule(shape.BlockQtt(ix))
			found = true
		}
	})
	return FromDense(inferred, d, cutoff)
}

// forEachBlockIndex walks the Cartesian product of section indices in
// lexicographic order.
func forEachBlockIndex(s Shape, f func(Index)) {
	if s.Dim() == 0 {
		f(Index{})
		return
	}
	ix := make(Index, s.Dim())
	for {
		f(ix)
		d := s.Dim() - 1
		for d >= 0 {
			ix[d]++
			if ix[d] < s.SectionNumber(d) {
				break
			}
			ix[d] = 0
			d--
		}
		if d < 0 {
			return
		}
	}
}

// String renders the shape and block inventory.
func (t *BTensor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "btensor %s, %d block(s):", t.shape.String(), t.NumBlocks())
	for _, e := range t.blocks.entries {
		fmt.Fprintf(&b, " %v", e.idx)
	}
	return b.String()
}

// Allclose reports whether two tensors with matching shapes agree
// blockwise within the given tolerances, treating missing blocks as zero.
func Allclose(a, b *BTensor, rtol, atol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	seen := map[string]bool{}
	key := func(ix Index) string { return fmt.Sprint([]int(ix)) }
	for _, e := range a.blocks.entries {
		seen[key(e.idx)] = true
		other, ok := b.blocks.at(e.idx)
		if !ok {
			other = dense.New(b.dt, b.shape.BlockShape(e.idx)...)
		}
		if !dense.Allclose(e.t, other, rtol, atol) {
			return false
		}
	}
	for _, e := range b.blocks.entries {
		if seen[key(e.idx)] {
			continue
		}
		zero := dense.New(a.dt, a.shape.BlockShape(e.idx)...)
		if !dense.Allclose(zero, e.t, rtol, atol) {
			return false
		}
	}
	return true
}

// Norm computes the Frobenius norm over all stored blocks.
func (t *BTensor) Norm() float64 {
	var sum float64
	for _, e := range t.blocks.entries {
		n := e.t.Norm()
		sum += n * n
	}
	return math.Sqrt(sum)
}

// Item extracts the value of a tensor holding exactly one element.
func (t *BTensor) Item() (float64, error) {
	var total int
	var val float64
	for _, e := range t.blocks.entries {
		total += e.t.Size()
		if e.t.Size() == 1 {
			val = e.t.Item()
		}
	}
	if total != 1 {
		return 0, errors.Wrapf(ErrShapeMismatch, "item on tensor with %d stored elements", total)
	}
	return val, nil
}
