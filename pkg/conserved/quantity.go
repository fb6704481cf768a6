package conserved

import (
	"strings"

	"github.com/pkg/errors"
)

// Quantity is a composite Abelian group element: a fixed tuple of simple
// group factors composed elementwise. The zero value is the trivial
// (empty-tuple) group, which composes with itself and nothing else.
//
// Quantity has value semantics through its constructors and non-mutating
// operations; the in-place methods (Op, InverseInPlace) mutate the
// receiver's own storage. Use Clone before mutating a quantity obtained
// from shared structures.
type Quantity struct {
	factors []Factor
}

// NewQuantity builds a composite quantity from the given factors. The
// slice is copied.
func NewQuantity(factors ...Factor) Quantity {
	if len(factors) == 0 {
		return Quantity{}
	}
	f := make([]Factor, len(factors))
	copy(f, factors)
	return Quantity{factors: f}
}

// Trivial returns the element of the trivial one-element group.
func Trivial() Quantity { return Quantity{} }

// Len reports the number of factors in the tuple.
func (q Quantity) Len() int { return len(q.factors) }

// Factor returns the i-th factor of the tuple.
func (q Quantity) Factor(i int) Factor { return q.factors[i] }

// Clone returns a quantity with its own storage.
func (q Quantity) Clone() Quantity {
	return NewQuantity(q.factors...)
}

// SameType reports whether two quantities share the same factor signature:
// same number of factors with matching group kind and modulus at every
// position.
func (q Quantity) SameType(o Quantity) bool {
	if len(q.factors) != len(o.factors) {
		return false
	}
	for i := range q.factors {
		if !q.factors[i].SameType(o.factors[i]) {
			return false
		}
	}
	return true
}

func (q Quantity) typeError(o Quantity, what string) error {
	return errors.Wrapf(ErrTypeMismatch, "%s between %v and %v", what, q, o)
}

// Neutral returns the identity of the quantity's group: the same factor
// tuple with every factor set to its neutral element.
func (q Quantity) Neutral() Quantity {
	out := make([]Factor, len(q.factors))
	for i, f := range q.factors {
		out[i] = f.Neutral()
	}
	return Quantity{factors: out}
}

// Op composes o into the receiver in place. It fails with ErrTypeMismatch
// when the factor tuples differ.
func (q *Quantity) Op(o Quantity) error {
	if !q.SameType(o) {
		return q.typeError(o, "composition")
	}
	for i := range q.factors {
		q.factors[i] = q.factors[i].Op(o.factors[i])
	}
	return nil
}

// Compose returns the composition a*b. It fails with ErrTypeMismatch when
// the factor tuples differ.
func Compose(a, b Quantity) (Quantity, error) {
	out := a.Clone()
	if err := out.Op(b); err != nil {
		return Quantity{}, err
	}
	return out, nil
}

// MustCompose is Compose for type-checked call sites; it panics on
// mismatched factor tuples.
func MustCompose(a, b Quantity) Quantity {
	out, err := Compose(a, b)
	if err != nil {
		panic(err)
	}
	return out
}

// InverseInPlace replaces the receiver with its group inverse.
func (q *Quantity) InverseInPlace() {
	for i := range q.factors {
		q.factors[i] = q.factors[i].Inverse()
	}
}

// Inverse returns the group inverse.
func (q Quantity) Inverse() Quantity {
	out := q.Clone()
	out.InverseInPlace()
	return out
}

// Equal reports elementwise equality. Comparing quantities with different
// factor tuples is a programming error and panics with a wrapped
// ErrTypeMismatch.
func (q Quantity) Equal(o Quantity) bool {
	if !q.SameType(o) {
		panic(q.typeError(o, "equality comparison"))
	}
	for i := range q.factors {
		if !q.factors[i].Equal(o.factors[i]) {
			return false
		}
	}
	return true
}

// NotEqual is the negation of Equal, with the same panic contract.
func (q Quantity) NotEqual(o Quantity) bool { return !q.Equal(o) }

// Less is the lexicographic order over the factor tuple, so that vectors
// of quantities can be sorted. It panics with a wrapped ErrTypeMismatch on
// incompatible tuples.
func (q Quantity) Less(o Quantity) bool {
	if !q.SameType(o) {
		panic(q.typeError(o, "ordering comparison"))
	}
	for i := range q.factors {
		if q.factors[i].Less(o.factors[i]) {
			return true
		}
		if o.factors[i].Less(q.factors[i]) {
			return false
		}
	}
	return false
}

// SquaredDistance sums the squared integer differences of Z factors and
// the squared modular distances of C factors. Random-state seeding uses
// this metric to steer a sampled quantity toward a target.
func SquaredDistance(a, b Quantity) (int64, error) {
	if !a.SameType(b) {
		return 0, a.typeError(b, "distance")
	}
	var sum int64
	for i := range a.factors {
		sum += a.factors[i].squaredDistance(b.factors[i])
	}
	return sum, nil
}

// String renders the composite as [f0, f1, ...].
func (q Quantity) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range q.factors {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.String())
	}
	b.WriteByte(']')
	return b.String()
}
