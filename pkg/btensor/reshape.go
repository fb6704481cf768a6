package btensor

import (
	"github.com/pkg/errors"

	"github.com/itohio/quantit/pkg/conserved"
)

// groupedDim is the bookkeeping of one reshape group: the Cartesian
// product of the grouped dimensions' sections in row-major order, merged
// into new sections by product quantity. Each source tuple owns a
// contiguous sub-range of its merged section; the row-major packing of
// the tuple index defines the offset.
type groupedDim struct {
	dims     []int // source dimensions of the group, ascending
	sections []Section
	// per tuple, indexed row-major over the group's section counts
	tupleSection []int
	tupleOffset  []int
	tupleSize    []int
	counts       []int
}

func buildGroupedDim(s Shape, dims []int) (groupedDim, error) {
	g := groupedDim{dims: dims}
	g.counts = make([]int, len(dims))
	total := 1
	for i, d := range dims {
		g.counts[i] = s.SectionNumber(d)
		total *= g.counts[i]
	}
	g.tupleSection = make([]int, 0, total)
	g.tupleOffset = make([]int, 0, total)
	g.tupleSize = make([]int, 0, total)

	secOf := map[string]int{}
	tuple := make([]int, len(dims))
	for i := 0; i < total; i++ {
		q := s.rule.Neutral()
		size := 1
		for j, d := range dims {
			q = conserved.MustCompose(q, s.SectionQtt(d, tuple[j]))
			size *= s.SectionSize(d, tuple[j])
		}
		key := q.String()
		id, ok := secOf[key]
		if !ok {
			id = len(g.sections)
			secOf[key] = id
			g.sections = append(g.sections, Section{Size: 0, Qtt: q})
		}
		g.tupleSection = append(g.tupleSection, id)
		g.tupleOffset = append(g.tupleOffset, g.sections[id].Size)
		g.tupleSize = append(g.tupleSize, size)
		g.sections[id].Size += size

		for j := len(dims) - 1; j >= 0; j-- {
			tuple[j]++
			if tuple[j] < g.counts[j] {
				break
			}
			tuple[j] = 0
		}
	}
	return g, nil
}

// tupleRank flattens a group sub-index row-major.
func (g groupedDim) tupleRank(sub []int) int {
	r := 0
	for j := range sub {
		r = r*g.counts[j] + sub[j]
	}
	return r
}

// validateGroups checks that groups partition 0..rank-1 into consecutive
// ascending runs.
func validateGroups(rank int, groups [][]int) error {
	next := 0
	for _, g := range groups {
		if len(g) == 0 {
			return errors.Wrap(ErrReshapeIncompatible, "empty reshape group")
		}
		for _, d := range g {
			if d != next {
				return errors.Wrapf(ErrReshapeIncompatible, "reshape groups %v must cover dimensions consecutively", groups)
			}
			next++
		}
	}
	if next != rank {
		return errors.Wrapf(ErrReshapeIncompatible, "reshape groups %v cover %d of %d dimensions", groups, next, rank)
	}
	return nil
}

// Reshape collapses each group of consecutive dimensions into one. New
// sections are the grouped dimensions' section tuples deduplicated by
// product quantity; every source block lands in a contiguous sub-range of
// its merged section.
func (t *BTensor) Reshape(groups [][]int) (BTensor, error) {
	if err := validateGroups(t.Dim(), groups); err != nil {
		return BTensor{}, err
	}
	grouped := make([]groupedDim, len(groups))
	dims := make([][]Section, len(groups))
	for i, g := range groups {
		gd, err := buildGroupedDim(t.shape, g)
		if err != nil {
			return BTensor{}, err
		}
		grouped[i] = gd
		dims[i] = gd.sections
	}
	shape, err := NewShape(dims, t.shape.rule)
	if err != nil {
		return BTensor{}, err
	}
	out := New(shape, t.dt)

	for _, e := range t.blocks.entries {
		if e.t.Size() == 0 {
			continue
		}
		newIdx := make(Index, len(groups))
		offsets := make([]int, len(groups))
		sizes := make([]int, len(groups))
		for i, gd := range grouped {
			sub := make([]int, len(gd.dims))
			for j, d := range gd.dims {
				sub[j] = e.idx[d]
			}
			rank := gd.tupleRank(sub)
			newIdx[i] = gd.tupleSection[rank]
			offsets[i] = gd.tupleOffset[rank]
			sizes[i] = gd.tupleSize[rank]
		}
		dst, err := out.Block(newIdx)
		if err != nil {
			return BTensor{}, err
		}
		dst.WriteRegion(offsets, e.t.Reshape(sizes...))
	}
	return out, nil
}

// ReshapeAs expands the tensor into the section structure of target. The
// target's grouped quantities must factor the source's: grouping the
// target shape so that each group's extent matches the corresponding
// source dimension must reproduce the source's merged sections exactly.
// With overwriteRule the result adopts the target's selection rule,
// provided the non-zero structure satisfies it.
func (t *BTensor) ReshapeAs(target Shape, overwriteRule bool) (BTensor, error) {
	groups, err := partitionByExtent(target, t.shape)
	if err != nil {
		return BTensor{}, err
	}
	grouped := make([]groupedDim, len(groups))
	for i, g := range groups {
		gd, err := buildGroupedDim(target, g)
		if err != nil {
			return BTensor{}, err
		}
		grouped[i] = gd
		if err := matchMergedSections(t.shape, i, gd); err != nil {
			return BTensor{}, err
		}
	}
	rule := t.shape.rule
	if overwriteRule {
		rule = target.rule
	} else if !target.rule.SameType(t.shape.rule) || !target.rule.Equal(t.shape.rule) {
		return BTensor{}, errors.Wrapf(ErrReshapeIncompatible, "target selection rule %v differs from %v; pass overwriteRule to adopt it", target.rule, t.shape.rule)
	}
	out := New(target.WithRule(rule), t.dt)

	// Walk each source block and scatter its tuple sub-ranges into target
	// blocks. Tuples are unique per target block, so plain puts suffice.
	for _, e := range t.blocks.entries {
		if e.t.Size() == 0 {
			continue
		}
		if err := scatterBlock(&out, grouped, e); err != nil {
			return BTensor{}, err
		}
	}
	return out, nil
}

// matchMergedSections verifies that grouping the target reproduces source
// dimension i section by section.
func matchMergedSections(src Shape, d int, gd groupedDim) error {
	if len(gd.sections) != src.SectionNumber(d) {
		return errors.Wrapf(ErrReshapeIncompatible, "dim %d: %d merged sections vs %d", d, len(gd.sections), src.SectionNumber(d))
	}
	for k, sec := range gd.sections {
		if sec.Size != src.SectionSize(d, k) {
			return errors.Wrapf(ErrReshapeIncompatible, "dim %d section %d: size %d vs %d", d, k, sec.Size, src.SectionSize(d, k))
		}
		q := src.SectionQtt(d, k)
		if !sec.Qtt.SameType(q) || !sec.Qtt.Equal(q) {
			return errors.Wrapf(ErrReshapeIncompatible, "dim %d section %d: quantity %v does not factor %v", d, k, sec.Qtt, q)
		}
	}
	return nil
}

func scatterBlock(out *BTensor, grouped []groupedDim, e blockEntry) error {
	// enumerate the tuples of each dimension that merged into this
	// block's section
	perDim := make([][]int, len(grouped))
	for i, gd := range grouped {
		for rank, sec := range gd.tupleSection {
			if sec == e.idx[i] {
				perDim[i] = append(perDim[i], rank)
			}
		}
	}
	choice := make([]int, len(grouped))
	for {
		offsets := make([]int, len(grouped))
		sizes := make([]int, len(grouped))
		var targetIdx Index
		var targetSizes []int
		for i, gd := range grouped {
			rank := perDim[i][choice[i]]
			offsets[i] = gd.tupleOffset[rank]
			sizes[i] = gd.tupleSize[rank]
			sub := unrank(rank, gd.counts)
			for j, d := range gd.dims {
				targetIdx = append(targetIdx, sub[j])
				targetSizes = append(targetSizes, out.shape.SectionSize(d, sub[j]))
			}
		}
		region := e.t.ReadRegion(offsets, sizes)
		if region.Size() > 0 && region.InfNorm() > 0 {
			if !out.shape.BlockAllowed(targetIdx) {
				return errors.Wrapf(ErrSelectionRule, "non-zero data at block %v violates the adopted selection rule %v", targetIdx, out.shape.rule)
			}
			if err := out.SetBlock(targetIdx, region.Reshape(targetSizes...)); err != nil {
				return err
			}
		}
		done := true
		for i := len(choice) - 1; i >= 0; i-- {
			choice[i]++
			if choice[i] < len(perDim[i]) {
				done = false
				break
			}
			choice[i] = 0
		}
		if done {
			return nil
		}
	}
}

// unrank expands a row-major rank into a sub-index over counts.
func unrank(rank int, counts []int) []int {
	sub := make([]int, len(counts))
	for j := len(counts) - 1; j >= 0; j-- {
		sub[j] = rank % counts[j]
		rank /= counts[j]
	}
	return sub
}

// partitionByExtent groups target dimensions consecutively so that each
// group's dense extent equals the matching source dimension's extent.
func partitionByExtent(target, src Shape) ([][]int, error) {
	groups := make([][]int, 0, src.Dim())
	d := 0
	for sd := 0; sd < src.Dim(); sd++ {
		want := src.TotalExtent(sd)
		var g []int
		prod := 1
		remaining := src.Dim() - sd - 1
		for d < target.Dim() {
			g = append(g, d)
			prod *= target.TotalExtent(d)
			d++
			if prod == want && target.Dim()-d >= remaining {
				// absorb trailing unit-extent dims that would starve
				// no later group
				for d < target.Dim() && target.TotalExtent(d) == 1 && target.Dim()-(d+1) >= remaining {
					g = append(g, d)
					d++
				}
				break
			}
			if prod > want && want != 0 {
				return nil, errors.Wrapf(ErrReshapeIncompatible, "target extents do not factor source extent %d at dim %d", want, sd)
			}
		}
		if prod != want {
			return nil, errors.Wrapf(ErrReshapeIncompatible, "target extents do not factor source extent %d at dim %d", want, sd)
		}
		groups = append(groups, g)
	}
	if d != target.Dim() {
		return nil, errors.Wrapf(ErrReshapeIncompatible, "target rank %d leaves %d unmatched dimensions", target.Dim(), target.Dim()-d)
	}
	return groups, nil
}
