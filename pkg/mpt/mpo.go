package mpt

import (
	"github.com/itohio/quantit/pkg/btensor"
	"github.com/itohio/quantit/pkg/dense"
)

// MPO is a matrix product operator: rank-4 tensors ordered (left bond,
// out physical, right bond, in physical) with matching virtual bonds.
type MPO MPT

// Len reports the number of sites.
func (m MPO) Len() int { return len(m) }

// At returns the tensor at site i.
func (m MPO) At(i int) *btensor.BTensor { return &m[i] }

// Clone deep-copies the operator.
func (m MPO) Clone() MPO { return MPO(MPT(m).Clone()) }

// CheckRanks validates rank 4 everywhere, matching virtual bonds and
// edge bonds of extent 1.
func (m MPO) CheckRanks() error {
	return checkTrain(MPT(m), 4, 2)
}

// BondDims lists the dense extents of the virtual bonds, including the
// trivial edges.
func (m MPO) BondDims() []int {
	out := make([]int, 0, len(m)+1)
	out = append(out, m[0].Shape().TotalExtent(0))
	for i := range m {
		out = append(out, m[i].Shape().TotalExtent(2))
	}
	return out
}

// Coalesce sweeps the operator's virtual bonds and removes sections whose
// data is numerically zero on either side of the bond, then merges
// duplicate sections whose left-side slices agree within cutoff by
// accumulating their right-side slices. The represented operator is
// preserved up to the cutoff.
func (m MPO) Coalesce(cutoff float64) error {
	for bond := 0; bond+1 < len(m); bond++ {
		if err := m.coalesceBond(bond, cutoff); err != nil {
			return err
		}
	}
	return nil
}

// sectionNorm measures the data of one bond section on one side.
func sectionNorm(t *btensor.BTensor, dim, k int) float64 {
	var max float64
	for idx, blk := range t.Blocks() {
		if idx[dim] != k {
			continue
		}
		if n := blk.InfNorm(); n > max {
			max = n
		}
	}
	return max
}

// sliceSection extracts the dense content of one bond section on one
// side, for comparisons.
func sliceSection(t *btensor.BTensor, dim, k int) (dense.Tensor, error) {
	ixs := make([]btensor.TensorIndex, t.Dim())
	for d := range ixs {
		if d == dim {
			ixs[d] = btensor.IdxRange(k, k+1)
		} else {
			ixs[d] = btensor.IdxAll()
		}
	}
	view, err := t.Index(ixs...)
	if err != nil {
		return dense.Tensor{}, err
	}
	return view.ToDense(), nil
}

func (m MPO) coalesceBond(bond int, cutoff float64) error {
	left, right := &m[bond], &m[bond+1]
	ls := left.Shape()
	n := ls.SectionNumber(2)

	drop := make([]bool, n)
	for k := 0; k < n; k++ {
		if sectionNorm(left, 2, k) <= cutoff || sectionNorm(right, 0, k) <= cutoff {
			drop[k] = true
		}
	}

	// merge duplicate sections: same quantity and size, left slices equal
	mergeInto := make([]int, n)
	for k := range mergeInto {
		mergeInto[k] = -1
	}
	for k1 := 0; k1 < n; k1++ {
		if drop[k1] || mergeInto[k1] >= 0 {
			continue
		}
		for k2 := k1 + 1; k2 < n; k2++ {
			if drop[k2] || mergeInto[k2] >= 0 {
				continue
			}
			if ls.SectionSize(2, k1) != ls.SectionSize(2, k2) {
				continue
			}
			q1, q2 := ls.SectionQtt(2, k1), ls.SectionQtt(2, k2)
			if !q1.SameType(q2) || !q1.Equal(q2) {
				continue
			}
			s1, err := sliceSection(left, 2, k1)
			if err != nil {
				return err
			}
			s2, err := sliceSection(left, 2, k2)
			if err != nil {
				return err
			}
			if dense.Allclose(s1, s2, 0, cutoff) {
				mergeInto[k2] = k1
			}
		}
	}

	changed := false
	for k := 0; k < n; k++ {
		if drop[k] || mergeInto[k] >= 0 {
			changed = true
		}
	}
	if !changed {
		return nil
	}

	newLeft, err := rebuildBondTensor(left, 2, drop, mergeInto, false)
	if err != nil {
		return err
	}
	newRight, err := rebuildBondTensor(right, 0, drop, mergeInto, true)
	if err != nil {
		return err
	}
	m[bond] = newLeft
	m[bond+1] = newRight
	return nil
}

// rebuildBondTensor rewrites one side of a coalesced bond: dropped
// sections disappear, merged sections keep a single representative, and
// on the accumulate side the merged sections' data is summed into it.
func rebuildBondTensor(t *btensor.BTensor, dim int, drop []bool, mergeInto []int, accumulate bool) (btensor.BTensor, error) {
	s := t.Shape()
	n := s.SectionNumber(dim)
	newID := make([]int, n)
	var sections []btensor.Section
	for k := 0; k < n; k++ {
		if drop[k] {
			newID[k] = -1
			continue
		}
		if mergeInto[k] >= 0 {
			newID[k] = -2 // resolved below
			continue
		}
		newID[k] = len(sections)
		sections = append(sections, btensor.Section{Size: s.SectionSize(dim, k), Qtt: s.SectionQtt(dim, k)})
	}
	for k := 0; k < n; k++ {
		if newID[k] == -2 {
			newID[k] = newID[mergeInto[k]]
		}
	}

	dims := make([][]btensor.Section, t.Dim())
	for d := 0; d < t.Dim(); d++ {
		if d == dim {
			dims[d] = sections
		} else {
			dims[d] = s.Dims(d)
		}
	}
	shape, err := btensor.NewShape(dims, s.SelectionRule())
	if err != nil {
		return btensor.BTensor{}, err
	}
	out := btensor.New(shape, t.Dtype())
	for idx, blk := range t.Blocks() {
		k := idx[dim]
		if newID[k] < 0 {
			continue
		}
		if !accumulate && mergeInto[k] >= 0 {
			// the merged representative already carries this data
			continue
		}
		nix := append(btensor.Index{}, idx...)
		nix[dim] = newID[k]
		dst, err := out.Block(nix)
		if err != nil {
			return btensor.BTensor{}, err
		}
		dst.AccumulateInto(blk, 1, 1)
	}
	return out, nil
}
