package mpt

import (
	"github.com/pkg/errors"

	"github.com/itohio/quantit/pkg/btensor"
)

// MPS is a matrix product state: rank-3 tensors (left bond, physical,
// right bond) with an orthogonality center. Tensors left of the center
// are left-canonical, tensors right of it are right-canonical, and the
// center tensor carries the state's norm.
type MPS struct {
	Tensors MPT
	oc      int
}

// NewMPS wraps a chain of rank-3 tensors with the orthogonality center
// at oc. The chain structure is validated; the canonical property of the
// flanks is the caller's claim.
func NewMPS(tensors MPT, oc int) (*MPS, error) {
	m := &MPS{Tensors: tensors, oc: oc}
	if err := m.CheckRanks(); err != nil {
		return nil, err
	}
	if oc < 0 || oc >= len(tensors) {
		return nil, errors.Wrapf(ErrInvalidOC, "center %d for %d sites", oc, len(tensors))
	}
	return m, nil
}

// Len reports the number of sites.
func (m *MPS) Len() int { return len(m.Tensors) }

// OC reports the orthogonality center.
func (m *MPS) OC() int { return m.oc }

// At returns the tensor at site i.
func (m *MPS) At(i int) *btensor.BTensor { return &m.Tensors[i] }

// Clone deep-copies the state.
func (m *MPS) Clone() *MPS {
	return &MPS{Tensors: m.Tensors.Clone(), oc: m.oc}
}

// CheckRanks validates rank 3 everywhere, matching virtual bonds and
// edge bonds of extent 1.
func (m *MPS) CheckRanks() error {
	return checkTrain(m.Tensors, 3, 2)
}

// BondDims lists the dense extents of the virtual bonds, including the
// two trivial edges.
func (m *MPS) BondDims() []int {
	out := make([]int, 0, m.Len()+1)
	out = append(out, m.Tensors[0].Shape().TotalExtent(0))
	for i := range m.Tensors {
		out = append(out, m.Tensors[i].Shape().TotalExtent(2))
	}
	return out
}

// Norm computes the 2-norm of the state, which lives on the center
// tensor when the flanks are canonical.
func (m *MPS) Norm() float64 {
	return m.Tensors[m.oc].Norm()
}

// MoveOC moves the orthogonality center one site at a time until it
// reaches target. Each step splits the center by SVD, leaves the
// isometric factor in place and folds the weighted factor into the
// neighbour. It fails with ErrInvalidOC when target is outside [0, L).
func (m *MPS) MoveOC(target int) error {
	if target < 0 || target >= m.Len() {
		return errors.Wrapf(ErrInvalidOC, "target %d for %d sites", target, m.Len())
	}
	for target < m.oc {
		if err := m.stepLeft(); err != nil {
			return err
		}
	}
	for target > m.oc {
		if err := m.stepRight(); err != nil {
			return err
		}
	}
	return nil
}

// stepLeft makes the center tensor right-canonical and folds U·D into
// the left neighbour.
func (m *MPS) stepLeft() error {
	cur := &m.Tensors[m.oc]
	next := &m.Tensors[m.oc-1]
	u, d, v, err := btensor.SVDSplit(cur, 1)
	if err != nil {
		return err
	}
	// v is (phys, right, bond); the right isometry is (bond, phys, right).
	// Real scalars conjugate to themselves, so no value conjugation is
	// needed on the kept factor.
	iso, err := v.Permute([]int{2, 0, 1})
	if err != nil {
		return err
	}
	ud, err := btensor.Tensordot(&u, &d, []int{1}, []int{0})
	if err != nil {
		return err
	}
	folded, err := btensor.Tensordot(next, &ud, []int{2}, []int{0})
	if err != nil {
		return err
	}
	m.Tensors[m.oc] = iso
	m.Tensors[m.oc-1] = folded
	m.oc--
	return nil
}

// stepRight makes the center tensor left-canonical and folds D·V into
// the right neighbour.
func (m *MPS) stepRight() error {
	cur := &m.Tensors[m.oc]
	next := &m.Tensors[m.oc+1]
	u, d, v, err := btensor.SVDSplit(cur, 2)
	if err != nil {
		return err
	}
	// v is (right, bond); fold diag(d)·v^T into the neighbour.
	dv, err := btensor.Tensordot(&d, &v, []int{1}, []int{1})
	if err != nil {
		return err
	}
	folded, err := btensor.Tensordot(&dv, next, []int{1}, []int{0})
	if err != nil {
		return err
	}
	m.Tensors[m.oc] = u
	m.Tensors[m.oc+1] = folded
	m.oc++
	return nil
}

// SetOCUnchecked repositions the center without any factorization. The
// optimizer uses it while maintaining the canonical structure itself
// during sweeps; the caller is responsible for that structure matching
// the claimed center.
func (m *MPS) SetOCUnchecked(oc int) { m.oc = oc }
