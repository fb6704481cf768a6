package mpt

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/itohio/quantit/pkg/btensor"
	"github.com/itohio/quantit/pkg/conserved"
	"github.com/itohio/quantit/pkg/dense"
)

// PhysicalDims extracts the per-site physical section lists from an
// operator's ket index.
func PhysicalDims(op MPO) [][]btensor.Section {
	out := make([][]btensor.Section, op.Len())
	for i := 0; i < op.Len(); i++ {
		s := op.At(i).Shape()
		secs := s.Dims(3)
		for k := range secs {
			// the operator's in index is dual to the state's physical
			// index
			secs[k].Qtt = secs[k].Qtt.Inverse()
		}
		out[i] = secs
	}
	return out
}

// samplePhysicalPath picks one physical section per site so that the
// product of the chosen section quantities equals target. The sampler is
// a multi-pass greedy walk: after a random start, each pass revisits
// every site and keeps the section choice minimizing the squared
// distance between the running product and the target. The number of
// passes is bounded by the number of distinct site section-quantity
// patterns, after which an unreachable target is reported.
func samplePhysicalPath(phys [][]btensor.Section, target conserved.Quantity, rng *rand.Rand) ([]int, error) {
	l := len(phys)
	sel := make([]int, l)
	for i := range sel {
		sel[i] = rng.Intn(len(phys[i]))
	}
	product := func() conserved.Quantity {
		q := target.Neutral()
		for i, s := range sel {
			q = conserved.MustCompose(q, phys[i][s].Qtt)
		}
		return q
	}
	patterns := map[string]bool{}
	for _, secs := range phys {
		key := ""
		for _, s := range secs {
			key += s.Qtt.String() + ";"
		}
		patterns[key] = true
	}
	passes := len(patterns)
	if passes < 1 {
		passes = 1
	}
	for pass := 0; pass < passes; pass++ {
		total := product()
		dist, err := conserved.SquaredDistance(total, target)
		if err != nil {
			return nil, err
		}
		if dist == 0 {
			return sel, nil
		}
		for i := 0; i < l; i++ {
			best, bestDist := sel[i], int64(-1)
			for k := range phys[i] {
				sel[i] = k
				d, err := conserved.SquaredDistance(product(), target)
				if err != nil {
					return nil, err
				}
				if bestDist < 0 || d < bestDist {
					best, bestDist = k, d
				}
			}
			sel[i] = best
		}
	}
	if d, _ := conserved.SquaredDistance(product(), target); d != 0 {
		return nil, errors.Wrapf(ErrBadChain, "target sector %v is unreachable for the given physical dimensions", target)
	}
	return sel, nil
}

// RandomMPS builds a random state in the sector of target: physical
// section choices are sampled so their quantity product equals target,
// virtual bonds carry the accumulated products, and every allowed block
// is filled with uniform noise. Edge bonds have extent 1. The returned
// state is canonicalized with its center at site 0 and unit norm.
func RandomMPS(phys [][]btensor.Section, target conserved.Quantity, bond int, dt tensor.Dtype, rng *rand.Rand) (*MPS, error) {
	l := len(phys)
	if l == 0 {
		return nil, errors.Wrap(ErrBadChain, "no sites")
	}
	sel, err := samplePhysicalPath(phys, target, rng)
	if err != nil {
		return nil, err
	}

	// accumulated quantity entering each bond; acc[0] is neutral,
	// acc[l] is the target
	acc := make([]conserved.Quantity, l+1)
	acc[0] = target.Neutral()
	for i := 0; i < l; i++ {
		acc[i+1] = conserved.MustCompose(acc[i], phys[i][sel[i]].Qtt)
	}

	// bond sizes grow from the edges, clipped at the requested dimension
	sizes := make([]int, l+1)
	sizes[0], sizes[l] = 1, 1
	growth := 1
	for i := 1; i < l; i++ {
		growth *= maxSectionExtent(phys[i-1])
		sizes[i] = minInt(bond, growth)
	}
	growth = 1
	for i := l - 1; i >= 1; i-- {
		growth *= maxSectionExtent(phys[i])
		if growth < sizes[i] {
			sizes[i] = growth
		}
	}

	tensors := make(MPT, l)
	for i := 0; i < l; i++ {
		left := btensor.Section{Size: sizes[i], Qtt: acc[i]}
		right := btensor.Section{Size: sizes[i+1], Qtt: acc[i+1].Inverse()}
		shape, err := btensor.NewShape([][]btensor.Section{
			{left}, phys[i], {right},
		}, target.Neutral())
		if err != nil {
			return nil, err
		}
		site := btensor.New(shape, dt)
		for k := range phys[i] {
			ix := btensor.Index{0, k, 0}
			if !shape.BlockAllowed(ix) {
				continue
			}
			blk := randBlock(dt, shape.BlockShape(ix), rng)
			if err := site.SetBlock(ix, blk); err != nil {
				return nil, err
			}
		}
		if site.NumBlocks() == 0 {
			return nil, errors.Wrapf(ErrBadChain, "site %d admits no block in sector %v", i, target)
		}
		tensors[i] = site
	}

	state, err := NewMPS(tensors, 0)
	if err != nil {
		return nil, err
	}
	// canonicalize: a full right-to-left pass leaves every site but the
	// first right-canonical
	if err := state.MoveOC(l - 1); err != nil {
		return nil, err
	}
	if err := state.MoveOC(0); err != nil {
		return nil, err
	}
	if n := state.Norm(); n > 0 {
		state.At(0).MulScalarInPlace(1 / n)
	}
	return state, nil
}

func randBlock(dt tensor.Dtype, shape []int, rng *rand.Rand) dense.Tensor {
	out := dense.New(dt, shape...)
	coords := make([]int, len(shape))
	if out.Size() == 0 {
		return out
	}
	for {
		out.SetAt(rng.Float64()-0.5, coords...)
		if !advanceCoords(coords, shape) {
			return out
		}
	}
}

func advanceCoords(coords, shape []int) bool {
	for i := len(coords) - 1; i >= 0; i-- {
		coords[i]++
		if coords[i] < shape[i] {
			return true
		}
		coords[i] = 0
	}
	return false
}

func maxSectionExtent(secs []btensor.Section) int {
	total := 0
	for _, s := range secs {
		total += s.Size
	}
	if total < 1 {
		return 1
	}
	return total
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
