package mpt

import (
	"github.com/pkg/errors"

	"github.com/itohio/quantit/pkg/btensor"
)

// MPT is a plain sequence of block tensors with no rank constraint.
type MPT []btensor.BTensor

// Clone deep-copies every tensor.
func (m MPT) Clone() MPT {
	out := make(MPT, len(m))
	for i := range m {
		out[i] = m[i].Clone()
	}
	return out
}

// bondCompatible checks that dim dOut of a contracts against dim dIn of
// b: same section structure with mutually inverse quantities.
func bondCompatible(a, b *btensor.BTensor, dOut, dIn int) bool {
	sa, sb := a.Shape(), b.Shape()
	if sa.SectionNumber(dOut) != sb.SectionNumber(dIn) {
		return false
	}
	for k := 0; k < sa.SectionNumber(dOut); k++ {
		if sa.SectionSize(dOut, k) != sb.SectionSize(dIn, k) {
			return false
		}
		qa, qb := sa.SectionQtt(dOut, k), sb.SectionQtt(dIn, k)
		if !qa.SameType(qb) || !qa.Equal(qb.Inverse()) {
			return false
		}
	}
	return true
}

// checkTrain validates a chain of tensors of the given rank with virtual
// bonds on dims 0 and rightDim, and edge bonds of extent 1.
func checkTrain(m MPT, rank, rightDim int) error {
	if len(m) == 0 {
		return errors.Wrap(ErrBadChain, "empty chain")
	}
	for i := range m {
		if m[i].Dim() != rank {
			return errors.Wrapf(ErrBadChain, "site %d has rank %d, want %d", i, m[i].Dim(), rank)
		}
		if i+1 < len(m) && !bondCompatible(&m[i], &m[i+1], rightDim, 0) {
			return errors.Wrapf(ErrBadChain, "virtual bond between sites %d and %d does not match", i, i+1)
		}
	}
	if m[0].Shape().TotalExtent(0) != 1 {
		return errors.Wrapf(ErrBadChain, "left edge bond has extent %d", m[0].Shape().TotalExtent(0))
	}
	if m[len(m)-1].Shape().TotalExtent(rightDim) != 1 {
		return errors.Wrapf(ErrBadChain, "right edge bond has extent %d", m[len(m)-1].Shape().TotalExtent(rightDim))
	}
	return nil
}
