package btensor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/itohio/quantit/pkg/conserved"
)

// Section describes one contiguous slice of a dimension: its integer
// extent and the conserved quantity labelling it. Zero-size sections are
// legal; they carry quantity labels that other tensors may need.
type Section struct {
	Size int
	Qtt  conserved.Quantity
}

// Index identifies a block by one section index per dimension.
type Index []int

func (ix Index) clone() Index {
	out := make(Index, len(ix))
	copy(out, ix)
	return out
}

// lexCompare orders block indices lexicographically.
func lexCompare(a, b Index) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// Shape is the section partitioning of a block tensor: per-dimension
// section counts, the packed section sizes and quantities in
// dimension-major order, and the selection rule every stored block must
// satisfy.
type Shape struct {
	sectionsPerDim []int
	sectionSizes   []int
	sectionQtts    conserved.Vector
	rule           conserved.Quantity
	offsets        []int // prefix sums over sectionsPerDim
}

// NewShape builds a shape from per-dimension section lists and a
// selection rule. Every section quantity must be type-compatible with the
// rule.
func NewShape(dims [][]Section, rule conserved.Quantity) (Shape, error) {
	s := Shape{
		sectionsPerDim: make([]int, len(dims)),
		rule:           rule.Clone(),
		sectionQtts:    conserved.NewVector(0, rule),
	}
	for d, sections := range dims {
		s.sectionsPerDim[d] = len(sections)
		for _, sec := range sections {
			if sec.Size < 0 {
				return Shape{}, errors.Wrapf(ErrShapeMismatch, "negative section size %d in dim %d", sec.Size, d)
			}
			if !sec.Qtt.SameType(rule) {
				return Shape{}, errors.Wrapf(conserved.ErrTypeMismatch, "section quantity %v in dim %d vs selection rule %v", sec.Qtt, d, rule)
			}
			s.sectionSizes = append(s.sectionSizes, sec.Size)
			if err := s.sectionQtts.PushBack(sec.Qtt); err != nil {
				return Shape{}, err
			}
		}
	}
	s.computeOffsets()
	return s, nil
}

// NewShapeRaw builds a shape from the packed arrays without validation.
// This is the trusted path used by operations that construct shapes from
// already-checked data.
func NewShapeRaw(sectionsPerDim []int, sizes []int, qtts conserved.Vector, rule conserved.Quantity) Shape {
	s := Shape{
		sectionsPerDim: append([]int{}, sectionsPerDim...),
		sectionSizes:   append([]int{}, sizes...),
		sectionQtts:    qtts.Clone(),
		rule:           rule.Clone(),
	}
	s.computeOffsets()
	return s
}

func (s *Shape) computeOffsets() {
	s.offsets = make([]int, len(s.sectionsPerDim)+1)
	for d, n := range s.sectionsPerDim {
		s.offsets[d+1] = s.offsets[d] + n
	}
}

// Dim reports the tensor rank.
func (s Shape) Dim() int { return len(s.sectionsPerDim) }

// SectionNumber reports the number of sections along dimension d.
func (s Shape) SectionNumber(d int) int { return s.sectionsPerDim[d] }

// SectionSize reports the extent of section k of dimension d.
func (s Shape) SectionSize(d, k int) int { return s.sectionSizes[s.offsets[d]+k] }

// SectionQtt returns the conserved quantity of section k of dimension d.
func (s Shape) SectionQtt(d, k int) conserved.Quantity { return s.sectionQtts.At(s.offsets[d] + k) }

// SelectionRule returns a copy of the selection rule.
func (s Shape) SelectionRule() conserved.Quantity { return s.rule.Clone() }

// TotalExtent reports the dense extent of dimension d: the sum of its
// section sizes.
func (s Shape) TotalExtent(d int) int {
	sum := 0
	for k := 0; k < s.sectionsPerDim[d]; k++ {
		sum += s.SectionSize(d, k)
	}
	return sum
}

// SectionOffset reports the dense offset of section k along dimension d.
func (s Shape) SectionOffset(d, k int) int {
	off := 0
	for i := 0; i < k; i++ {
		off += s.SectionSize(d, i)
	}
	return off
}

// validIndex checks that ix addresses one section per dimension.
func (s Shape) validIndex(ix Index) error {
	if len(ix) != s.Dim() {
		return errors.Wrapf(ErrNotFound, "block index rank %d vs tensor rank %d", len(ix), s.Dim())
	}
	for d, i := range ix {
		if i < 0 || i >= s.sectionsPerDim[d] {
			return errors.Wrapf(ErrNotFound, "block index %v out of range in dim %d", ix, d)
		}
	}
	return nil
}

// BlockQtt computes the product of the section quantities addressed by ix.
func (s Shape) BlockQtt(ix Index) conserved.Quantity {
	q := s.rule.Neutral()
	for d, i := range ix {
		q = conserved.MustCompose(q, s.SectionQtt(d, i))
	}
	return q
}

// BlockAllowed reports whether the block at ix satisfies the selection
// rule.
func (s Shape) BlockAllowed(ix Index) bool {
	return s.BlockQtt(ix).Equal(s.rule)
}

// BlockShape returns the per-dimension extents of the block at ix.
func (s Shape) BlockShape(ix Index) []int {
	out := make([]int, len(ix))
	for d, i := range ix {
		out[d] = s.SectionSize(d, i)
	}
	return out
}

// ShiftSelectionRule multiplies the selection rule by q in place.
func (s *Shape) ShiftSelectionRule(q conserved.Quantity) error {
	return s.rule.Op(q)
}

// WithRule returns a copy of the shape carrying the given selection rule.
func (s Shape) WithRule(q conserved.Quantity) Shape {
	out := s.clone()
	out.rule = q.Clone()
	return out
}

// NeutralRule returns a copy of the shape with a neutral selection rule.
func (s Shape) NeutralRule() Shape { return s.WithRule(s.rule.Neutral()) }

// Inverse returns the dual shape: every section quantity and the
// selection rule inverted. Blocks allowed in a shape are exactly the
// blocks allowed in its inverse.
func (s Shape) Inverse() Shape {
	out := s.clone()
	for i := 0; i < out.sectionQtts.Len(); i++ {
		q := out.sectionQtts.At(i)
		q.InverseInPlace()
		if err := out.sectionQtts.Set(i, q); err != nil {
			panic(err)
		}
	}
	out.rule.InverseInPlace()
	return out
}

func (s Shape) clone() Shape {
	return NewShapeRaw(s.sectionsPerDim, s.sectionSizes, s.sectionQtts, s.rule)
}

// Equal reports whether two shapes agree in sections, sizes, quantities
// and selection rule.
func (s Shape) Equal(o Shape) bool {
	if !s.EqualDims(o) {
		return false
	}
	if !s.rule.SameType(o.rule) || !s.rule.Equal(o.rule) {
		return false
	}
	return true
}

// EqualDims reports whether two shapes share the same section structure
// (counts, sizes, quantities) independent of selection rule.
func (s Shape) EqualDims(o Shape) bool {
	if s.Dim() != o.Dim() {
		return false
	}
	for d := 0; d < s.Dim(); d++ {
		if s.sectionsPerDim[d] != o.sectionsPerDim[d] {
			return false
		}
		for k := 0; k < s.sectionsPerDim[d]; k++ {
			if s.SectionSize(d, k) != o.SectionSize(d, k) {
				return false
			}
			q, oq := s.SectionQtt(d, k), o.SectionQtt(d, k)
			if !q.SameType(oq) || !q.Equal(oq) {
				return false
			}
		}
	}
	return true
}

// Dims returns the sections of dimension d as a slice.
func (s Shape) Dims(d int) []Section {
	out := make([]Section, s.sectionsPerDim[d])
	for k := range out {
		out[k] = Section{Size: s.SectionSize(d, k), Qtt: s.SectionQtt(d, k)}
	}
	return out
}

// TensorProductShape concatenates the dimensions of two shapes and
// composes their selection rules. Tensordot and Kronecker results use it
// to precompute their shape.
func (s Shape) TensorProductShape(o Shape) (Shape, error) {
	rule, err := conserved.Compose(s.rule, o.rule)
	if err != nil {
		return Shape{}, err
	}
	dims := make([][]Section, 0, s.Dim()+o.Dim())
	for d := 0; d < s.Dim(); d++ {
		dims = append(dims, s.Dims(d))
	}
	for d := 0; d < o.Dim(); d++ {
		dims = append(dims, o.Dims(d))
	}
	return NewShape(dims, rule)
}

// ShapeFrom selects a subset of dimensions by mask: -1 keeps the
// dimension, a non-negative k collapses it to its section k, shifting the
// selection rule by the inverse of the collapsed section's quantity so
// that the remaining dims still multiply to the rule.
func (s Shape) ShapeFrom(mask []int) (Shape, error) {
	if len(mask) != s.Dim() {
		return Shape{}, errors.Wrapf(ErrShapeMismatch, "mask rank %d vs tensor rank %d", len(mask), s.Dim())
	}
	rule := s.rule.Clone()
	var dims [][]Section
	for d, m := range mask {
		switch {
		case m == -1:
			dims = append(dims, s.Dims(d))
		case m >= 0 && m < s.sectionsPerDim[d]:
			if err := rule.Op(s.SectionQtt(d, m).Inverse()); err != nil {
				return Shape{}, err
			}
		default:
			return Shape{}, errors.Wrapf(ErrNotFound, "mask entry %d out of range for dim %d", m, d)
		}
	}
	return NewShape(dims, rule)
}

// String renders the shape for diagnostics.
func (s Shape) String() string {
	var b strings.Builder
	for d := 0; d < s.Dim(); d++ {
		if d > 0 {
			b.WriteString(" x ")
		}
		b.WriteByte('[')
		for k := 0; k < s.sectionsPerDim[d]; k++ {
			if k > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "(%d, %v)", s.SectionSize(d, k), s.SectionQtt(d, k))
		}
		b.WriteByte(']')
	}
	fmt.Fprintf(&b, " rule %v", s.rule)
	return b.String()
}
