package btensor

import (
	"github.com/pkg/errors"

	"github.com/itohio/quantit/pkg/conserved"
	"github.com/itohio/quantit/pkg/dense"
)

// checkContraction verifies that the paired dimensions of a and b can be
// contracted: same section counts, matching section sizes, and mutually
// inverse section quantities.
func checkContraction(a, b *BTensor, dimsA, dimsB []int) error {
	if len(dimsA) != len(dimsB) {
		return errors.Wrapf(ErrShapeMismatch, "tensordot: %d contracted dims vs %d", len(dimsA), len(dimsB))
	}
	for p := range dimsA {
		da, db := dimsA[p], dimsB[p]
		if da < 0 || da >= a.Dim() || db < 0 || db >= b.Dim() {
			return errors.Wrapf(ErrShapeMismatch, "tensordot: contracted pair (%d, %d) out of range", da, db)
		}
		if a.shape.SectionNumber(da) != b.shape.SectionNumber(db) {
			return errors.Wrapf(ErrShapeMismatch, "tensordot: dim %d has %d sections, dim %d has %d",
				da, a.shape.SectionNumber(da), db, b.shape.SectionNumber(db))
		}
		for k := 0; k < a.shape.SectionNumber(da); k++ {
			if a.shape.SectionSize(da, k) != b.shape.SectionSize(db, k) {
				return errors.Wrapf(ErrShapeMismatch, "tensordot: section %d sizes %d vs %d on dims (%d, %d)",
					k, a.shape.SectionSize(da, k), b.shape.SectionSize(db, k), da, db)
			}
			qa, qb := a.shape.SectionQtt(da, k), b.shape.SectionQtt(db, k)
			if !qa.SameType(qb) {
				return errors.Wrapf(conserved.ErrTypeMismatch, "tensordot: section quantities %v vs %v", qa, qb)
			}
			if !qa.Equal(qb.Inverse()) {
				return errors.Wrapf(ErrShapeMismatch, "tensordot: section %d quantities %v and %v are not inverses on dims (%d, %d)",
					k, qa, qb, da, db)
			}
		}
	}
	return nil
}

// remainingDims lists the dimensions of rank r not contained in dims,
// in ascending order.
func remainingDims(r int, dims []int) []int {
	drop := make([]bool, r)
	for _, d := range dims {
		drop[d] = true
	}
	out := make([]int, 0, r-len(dims))
	for d := 0; d < r; d++ {
		if !drop[d] {
			out = append(out, d)
		}
	}
	return out
}

// contractionShape builds the result shape: remaining dims of a, then
// remaining dims of b, under the product of the selection rules.
func contractionShape(a, b *BTensor, remA, remB []int) (Shape, error) {
	rule, err := conserved.Compose(a.shape.rule, b.shape.rule)
	if err != nil {
		return Shape{}, err
	}
	dims := make([][]Section, 0, len(remA)+len(remB))
	for _, d := range remA {
		dims = append(dims, a.shape.Dims(d))
	}
	for _, d := range remB {
		dims = append(dims, b.shape.Dims(d))
	}
	return NewShape(dims, rule)
}

// contractedKey extracts the contracted part of a block index in pairing
// order.
func contractedKey(ix Index, dims []int) string {
	key := make(Index, len(dims))
	for p, d := range dims {
		key[p] = ix[d]
	}
	return indexKey(key)
}

func indexKey(ix Index) string {
	b := make([]byte, 0, 4*len(ix))
	for _, i := range ix {
		b = append(b, byte(i), byte(i>>8), byte(i>>16), byte(i>>24))
	}
	return string(b)
}

// Tensordot contracts dimsA of a with dimsB of b. For every pair of
// remaining block indices the contracted block indices present in both
// operands are summed; missing blocks contribute nothing. An empty
// dimension list produces the tensor product.
func Tensordot(a, b *BTensor, dimsA, dimsB []int) (BTensor, error) {
	if err := checkContraction(a, b, dimsA, dimsB); err != nil {
		return BTensor{}, err
	}
	remA := remainingDims(a.Dim(), dimsA)
	remB := remainingDims(b.Dim(), dimsB)
	shape, err := contractionShape(a, b, remA, remB)
	if err != nil {
		return BTensor{}, err
	}
	out := New(shape, a.dt)

	// bucket b's blocks by contracted key
	bBuckets := map[string][]blockEntry{}
	for _, eb := range b.blocks.entries {
		k := contractedKey(eb.idx, dimsB)
		bBuckets[k] = append(bBuckets[k], eb)
	}

	for _, ea := range a.blocks.entries {
		if ea.t.Size() == 0 {
			continue
		}
		matches := bBuckets[contractedKey(ea.idx, dimsA)]
		for _, eb := range matches {
			if eb.t.Size() == 0 {
				continue
			}
			prod, err := dense.Tensordot(ea.t, eb.t, dimsA, dimsB)
			if err != nil {
				return BTensor{}, err
			}
			key := make(Index, 0, len(remA)+len(remB))
			for _, d := range remA {
				key = append(key, ea.idx[d])
			}
			for _, d := range remB {
				key = append(key, eb.idx[d])
			}
			out.blocks.mergeWith(key, prod, func(existing, incoming dense.Tensor) dense.Tensor {
				existing.AccumulateInto(incoming, 1, 1)
				return existing
			})
		}
	}
	if err := out.Validate(); err != nil {
		return BTensor{}, err
	}
	return out, nil
}

// TensorGdot fuses scale-and-accumulate into pre-existing output blocks:
// c <- beta*c + alpha*tensordot(a, b, dimsA, dimsB). The contraction's
// shape and selection rule must match c's.
func TensorGdot(c, a, b *BTensor, dimsA, dimsB []int, beta, alpha float64) error {
	if err := checkContraction(a, b, dimsA, dimsB); err != nil {
		return err
	}
	remA := remainingDims(a.Dim(), dimsA)
	remB := remainingDims(b.Dim(), dimsB)
	shape, err := contractionShape(a, b, remA, remB)
	if err != nil {
		return err
	}
	if !shape.Equal(c.shape) {
		return errors.Wrapf(ErrShapeMismatch, "tensorgdot: contraction shape %s vs accumulator %s", shape, c.shape)
	}
	for _, e := range c.blocks.entries {
		e.t.ScaleInPlace(beta)
	}
	bBuckets := map[string][]blockEntry{}
	for _, eb := range b.blocks.entries {
		bBuckets[contractedKey(eb.idx, dimsB)] = append(bBuckets[contractedKey(eb.idx, dimsB)], eb)
	}
	for _, ea := range a.blocks.entries {
		if ea.t.Size() == 0 {
			continue
		}
		for _, eb := range bBuckets[contractedKey(ea.idx, dimsA)] {
			if eb.t.Size() == 0 {
				continue
			}
			key := make(Index, 0, len(remA)+len(remB))
			for _, d := range remA {
				key = append(key, ea.idx[d])
			}
			for _, d := range remB {
				key = append(key, eb.idx[d])
			}
			dst, err := c.Block(key)
			if err != nil {
				return err
			}
			if err := dense.Tensorgdot(dst, ea.t, eb.t, dimsA, dimsB, 1, alpha); err != nil {
				return err
			}
		}
	}
	return nil
}
