package btensor

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/itohio/quantit/pkg/conserved"
	"github.com/itohio/quantit/pkg/dense"
)

// TruncOpts is the truncation policy shared by SVD and Eigh: drop the
// longest trailing part of the spectrum whose sum of |d|^Pow is at most Tol,
// keeping between MinSize and MaxSize values overall. MaxSize zero means
// unbounded.
type TruncOpts struct {
	Tol     float64
	Pow     float64
	MinSize int
	MaxSize int
}

// qttClass is one quantity class of a rank-2 block tensor: the blocks
// sharing a (row quantity, column quantity) pair, compacted into a dense
// pane whose rows and columns concatenate the distinct sections present.
type qttClass struct {
	rowQtt, colQtt conserved.Quantity
	rows, cols     []int // distinct section indices, ascending
	rowOff, colOff map[int]int
	blocks         []blockEntry
}

// classify groups the present blocks of a rank-2 tensor by quantity
// class. Classes come out in row-major, row-first order: sorted by row
// quantity, then column quantity.
func classify(t *BTensor) []*qttClass {
	classes := map[string]*qttClass{}
	var order []*qttClass
	for _, e := range t.blocks.entries {
		if e.t.Size() == 0 {
			continue
		}
		qr := t.shape.SectionQtt(0, e.idx[0])
		qc := t.shape.SectionQtt(1, e.idx[1])
		key := qr.String() + "|" + qc.String()
		cl, ok := classes[key]
		if !ok {
			cl = &qttClass{rowQtt: qr, colQtt: qc, rowOff: map[int]int{}, colOff: map[int]int{}}
			classes[key] = cl
			order = append(order, cl)
		}
		cl.blocks = append(cl.blocks, e)
		if _, seen := cl.rowOff[e.idx[0]]; !seen {
			cl.rowOff[e.idx[0]] = 0
			cl.rows = append(cl.rows, e.idx[0])
		}
		if _, seen := cl.colOff[e.idx[1]]; !seen {
			cl.colOff[e.idx[1]] = 0
			cl.cols = append(cl.cols, e.idx[1])
		}
	}
	for _, cl := range order {
		sort.Ints(cl.rows)
		sort.Ints(cl.cols)
		off := 0
		for _, r := range cl.rows {
			cl.rowOff[r] = off
			off += t.shape.SectionSize(0, r)
		}
		off = 0
		for _, c := range cl.cols {
			cl.colOff[c] = off
			off += t.shape.SectionSize(1, c)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].rowQtt.Less(order[j].rowQtt) {
			return true
		}
		if order[j].rowQtt.Less(order[i].rowQtt) {
			return false
		}
		return order[i].colQtt.Less(order[j].colQtt)
	})
	kept := order[:0]
	for _, cl := range order {
		rows, cols := cl.paneShape(t)
		if rows > 0 && cols > 0 {
			kept = append(kept, cl)
		}
	}
	return kept
}

func (cl *qttClass) paneShape(t *BTensor) (int, int) {
	rows, cols := 0, 0
	for _, r := range cl.rows {
		rows += t.shape.SectionSize(0, r)
	}
	for _, c := range cl.cols {
		cols += t.shape.SectionSize(1, c)
	}
	return rows, cols
}

// compact places the class's blocks into a single dense pane.
func (cl *qttClass) compact(t *BTensor) dense.Tensor {
	rows, cols := cl.paneShape(t)
	pane := dense.New(t.dt, rows, cols)
	for _, e := range cl.blocks {
		pane.WriteRegion([]int{cl.rowOff[e.idx[0]], cl.colOff[e.idx[1]]}, e.t)
	}
	return pane
}

// SVD decomposes a rank-2 block tensor per quantity class: each class's
// compacted pane is decomposed densely and scattered back, with one new
// bond section per class. U keeps the tensor's selection rule; D and V
// are neutral. D is returned as the block-diagonal rank-2 tensor
// diag(d) so that D and V fold together with a plain tensordot.
func SVD(t *BTensor) (U, D, V BTensor, err error) {
	if t.Dim() != 2 {
		return U, D, V, errors.Wrapf(ErrShapeMismatch, "svd on rank-%d block tensor; reshape to rank 2 first", t.Dim())
	}
	classes := classify(t)
	if len(classes) == 0 {
		return U, D, V, errors.Wrap(ErrNotFound, "svd on a tensor with no stored blocks")
	}

	rule := t.shape.rule
	var bond []Section  // quantity inv(rowQtt)*rule per class
	var bondD []Section // inverse labels for D's first dimension
	panes := make([]dense.Tensor, len(classes))
	for i, cl := range classes {
		rows, cols := cl.paneShape(t)
		k := rows
		if cols < k {
			k = cols
		}
		qU := conserved.MustCompose(cl.rowQtt.Inverse(), rule)
		bond = append(bond, Section{Size: k, Qtt: qU})
		bondD = append(bondD, Section{Size: k, Qtt: qU.Inverse()})
		panes[i] = cl.compact(t)
	}

	uShape, err := NewShape([][]Section{t.shape.Dims(0), bond}, rule)
	if err != nil {
		return U, D, V, err
	}
	dShape, err := NewShape([][]Section{bondD, bond}, rule.Neutral())
	if err != nil {
		return U, D, V, err
	}
	vShape, err := NewShape([][]Section{t.shape.Dims(1), bondD}, rule.Neutral())
	if err != nil {
		return U, D, V, err
	}
	U, D, V = New(uShape, t.dt), New(dShape, t.dt), New(vShape, t.dt)

	for c, cl := range classes {
		pu, ps, pv, derr := dense.SVD(panes[c])
		if derr != nil {
			return U, D, V, derr
		}
		k := ps.Shape()[0]
		for _, r := range cl.rows {
			size := t.shape.SectionSize(0, r)
			blk := pu.ReadRegion([]int{cl.rowOff[r], 0}, []int{size, k})
			if err := U.SetBlock(Index{r, c}, blk); err != nil {
				return U, D, V, err
			}
		}
		for _, col := range cl.cols {
			size := t.shape.SectionSize(1, col)
			blk := pv.ReadRegion([]int{cl.colOff[col], 0}, []int{size, k})
			if err := V.SetBlock(Index{col, c}, blk); err != nil {
				return U, D, V, err
			}
		}
		diag := dense.New(t.dt, k, k)
		for i := 0; i < k; i++ {
			diag.SetAt(ps.At(i), i, i)
		}
		if err := D.SetBlock(Index{c, c}, diag); err != nil {
			return U, D, V, err
		}
	}
	return U, D, V, nil
}

// Eigh decomposes a symmetric rank-2 block tensor per quantity class.
// Eigenpairs come back ordered by non-increasing magnitude inside each
// class. E is block diagonal like SVD's D.
func Eigh(t *BTensor) (E, U BTensor, err error) {
	if t.Dim() != 2 {
		return E, U, errors.Wrapf(ErrShapeMismatch, "eigh on rank-%d block tensor; reshape to rank 2 first", t.Dim())
	}
	classes := classify(t)
	if len(classes) == 0 {
		return E, U, errors.Wrap(ErrNotFound, "eigh on a tensor with no stored blocks")
	}
	rule := t.shape.rule
	var bond, bondD []Section
	panes := make([]dense.Tensor, len(classes))
	for i, cl := range classes {
		rows, cols := cl.paneShape(t)
		if rows != cols {
			return E, U, errors.Wrapf(ErrShapeMismatch, "eigh: class %v x %v pane is %dx%d, not square", cl.rowQtt, cl.colQtt, rows, cols)
		}
		qU := conserved.MustCompose(cl.rowQtt.Inverse(), rule)
		bond = append(bond, Section{Size: rows, Qtt: qU})
		bondD = append(bondD, Section{Size: rows, Qtt: qU.Inverse()})
		panes[i] = cl.compact(t)
	}
	uShape, err := NewShape([][]Section{t.shape.Dims(0), bond}, rule)
	if err != nil {
		return E, U, err
	}
	eShape, err := NewShape([][]Section{bondD, bond}, rule.Neutral())
	if err != nil {
		return E, U, err
	}
	E, U = New(eShape, t.dt), New(uShape, t.dt)
	for c, cl := range classes {
		pe, pu, derr := dense.SymEig(panes[c])
		if derr != nil {
			return E, U, derr
		}
		n := pe.Shape()[0]
		for _, r := range cl.rows {
			size := t.shape.SectionSize(0, r)
			blk := pu.ReadRegion([]int{cl.rowOff[r], 0}, []int{size, n})
			if err := U.SetBlock(Index{r, c}, blk); err != nil {
				return E, U, err
			}
		}
		diag := dense.New(t.dt, n, n)
		for i := 0; i < n; i++ {
			diag.SetAt(pe.At(i), i, i)
		}
		if err := E.SetBlock(Index{c, c}, diag); err != nil {
			return E, U, err
		}
	}
	return E, U, nil
}

// diagValues extracts the diagonal of every stored block of a
// block-diagonal rank-2 tensor, keyed by bond section.
func diagValues(D *BTensor) map[int][]float64 {
	out := map[int][]float64{}
	for _, e := range D.blocks.entries {
		n := e.t.Shape()[0]
		vals := make([]float64, n)
		for i := 0; i < n; i++ {
			vals[i] = e.t.At(i, i)
		}
		out[e.idx[1]] = vals
	}
	return out
}

// Truncate applies the truncation policy to a (U, D, V) triple, ranking
// the combined spectrum across all bond sections by magnitude. Sections
// truncated to zero are removed from the bond.
func Truncate(U, D, V *BTensor, opts TruncOpts) (BTensor, BTensor, BTensor, error) {
	keep, err := bondKeepCounts(D, opts)
	if err != nil {
		return BTensor{}, BTensor{}, BTensor{}, err
	}
	tu, err := narrowBond(U, U.Dim()-1, keep)
	if err != nil {
		return BTensor{}, BTensor{}, BTensor{}, err
	}
	td, err := narrowBondDiag(D, keep)
	if err != nil {
		return BTensor{}, BTensor{}, BTensor{}, err
	}
	tv, err := narrowBond(V, V.Dim()-1, keep)
	if err != nil {
		return BTensor{}, BTensor{}, BTensor{}, err
	}
	return tu, td, tv, nil
}

// TruncateEigh is Truncate for an (E, U) pair; the policy default for
// eigenvalues is Pow 1.
func TruncateEigh(E, U *BTensor, opts TruncOpts) (BTensor, BTensor, error) {
	if opts.Pow == 0 {
		opts.Pow = 1
	}
	keep, err := bondKeepCounts(E, opts)
	if err != nil {
		return BTensor{}, BTensor{}, err
	}
	te, err := narrowBondDiag(E, keep)
	if err != nil {
		return BTensor{}, BTensor{}, err
	}
	tu, err := narrowBond(U, U.Dim()-1, keep)
	if err != nil {
		return BTensor{}, BTensor{}, err
	}
	return te, tu, nil
}

type spectrumEntry struct {
	section int
	pos     int
	val     float64
}

// bondKeepCounts ranks the combined spectrum and returns how many values
// each bond section keeps.
func bondKeepCounts(D *BTensor, opts TruncOpts) (map[int]int, error) {
	if D.Dim() != 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "truncate: spectrum tensor has rank %d", D.Dim())
	}
	var all []spectrumEntry
	for sec, vals := range diagValues(D) {
		for i, v := range vals {
			all = append(all, spectrumEntry{section: sec, pos: i, val: v})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return abs(all[i].val) > abs(all[j].val)
	})
	mags := make([]float64, len(all))
	for i, e := range all {
		mags[i] = e.val
	}
	pow := opts.Pow
	if pow == 0 {
		pow = 2
	}
	k := dense.TruncationRank(mags, opts.Tol, pow, opts.MinSize, opts.MaxSize)
	keep := map[int]int{}
	for _, e := range all[:k] {
		keep[e.section]++
	}
	return keep, nil
}

// narrowBond trims dimension dim of t to the kept bond sizes, dropping
// sections with no kept values and renumbering the rest.
func narrowBond(t *BTensor, dim int, keep map[int]int) (BTensor, error) {
	oldN := t.shape.SectionNumber(dim)
	newID := make([]int, oldN)
	var sections []Section
	for k := 0; k < oldN; k++ {
		n := keep[k]
		if n == 0 {
			newID[k] = -1
			continue
		}
		newID[k] = len(sections)
		sections = append(sections, Section{Size: n, Qtt: t.shape.SectionQtt(dim, k)})
	}
	dims := make([][]Section, t.Dim())
	for d := 0; d < t.Dim(); d++ {
		if d == dim {
			dims[d] = sections
		} else {
			dims[d] = t.shape.Dims(d)
		}
	}
	shape, err := NewShape(dims, t.shape.rule)
	if err != nil {
		return BTensor{}, err
	}
	out := New(shape, t.dt)
	for _, e := range t.blocks.entries {
		id := newID[e.idx[dim]]
		if id < 0 {
			continue
		}
		n := keep[e.idx[dim]]
		ix := e.idx.clone()
		ix[dim] = id
		if err := out.SetBlock(ix, dense.NarrowLast(e.t, n)); err != nil {
			return BTensor{}, err
		}
	}
	return out, nil
}

// narrowBondDiag trims both dimensions of a block-diagonal spectrum
// tensor.
func narrowBondDiag(D *BTensor, keep map[int]int) (BTensor, error) {
	oldN := D.shape.SectionNumber(1)
	newID := make([]int, oldN)
	var d0, d1 []Section
	for k := 0; k < oldN; k++ {
		n := keep[k]
		if n == 0 {
			newID[k] = -1
			continue
		}
		newID[k] = len(d1)
		d0 = append(d0, Section{Size: n, Qtt: D.shape.SectionQtt(0, k)})
		d1 = append(d1, Section{Size: n, Qtt: D.shape.SectionQtt(1, k)})
	}
	shape, err := NewShape([][]Section{d0, d1}, D.shape.rule)
	if err != nil {
		return BTensor{}, err
	}
	out := New(shape, D.dt)
	for _, e := range D.blocks.entries {
		id := newID[e.idx[1]]
		if id < 0 {
			continue
		}
		n := keep[e.idx[1]]
		blk := e.t.ReadRegion([]int{0, 0}, []int{n, n})
		if err := out.SetBlock(Index{id, id}, blk); err != nil {
			return BTensor{}, err
		}
	}
	return out, nil
}

// SVDSplit reshapes around the split point, runs the batched rank-2 SVD
// and expands the factors back: U carries the leading dimensions plus the
// new bond, V the trailing dimensions plus the bond.
func SVDSplit(t *BTensor, split int) (U, D, V BTensor, err error) {
	if split <= 0 || split >= t.Dim() {
		return U, D, V, errors.Wrapf(ErrShapeMismatch, "svd split %d out of range for rank %d", split, t.Dim())
	}
	groups := [][]int{{}, {}}
	for d := 0; d < split; d++ {
		groups[0] = append(groups[0], d)
	}
	for d := split; d < t.Dim(); d++ {
		groups[1] = append(groups[1], d)
	}
	r2, err := t.Reshape(groups)
	if err != nil {
		return U, D, V, err
	}
	u2, D, v2, err := SVD(&r2)
	if err != nil {
		return U, D, V, err
	}
	U, err = expandBondFactor(&u2, t.shape, 0, split)
	if err != nil {
		return U, D, V, err
	}
	V, err = expandBondFactor(&v2, t.shape, split, t.Dim())
	if err != nil {
		return U, D, V, err
	}
	return U, D, V, nil
}

// SVDSplitTrunc is SVDSplit followed by Truncate.
func SVDSplitTrunc(t *BTensor, split int, opts TruncOpts) (U, D, V BTensor, err error) {
	u2, d2, v2, err := SVDSplit(t, split)
	if err != nil {
		return U, D, V, err
	}
	return Truncate(&u2, &d2, &v2, opts)
}

// EighSplit reshapes around the split point and runs the batched rank-2
// symmetric eigendecomposition.
func EighSplit(t *BTensor, split int) (E, U BTensor, err error) {
	if split <= 0 || split >= t.Dim() {
		return E, U, errors.Wrapf(ErrShapeMismatch, "eigh split %d out of range for rank %d", split, t.Dim())
	}
	groups := [][]int{{}, {}}
	for d := 0; d < split; d++ {
		groups[0] = append(groups[0], d)
	}
	for d := split; d < t.Dim(); d++ {
		groups[1] = append(groups[1], d)
	}
	r2, err := t.Reshape(groups)
	if err != nil {
		return E, U, err
	}
	e2, u2, err := Eigh(&r2)
	if err != nil {
		return E, U, err
	}
	U, err = expandBondFactor(&u2, t.shape, 0, split)
	if err != nil {
		return E, U, err
	}
	return e2, U, nil
}

// expandBondFactor reshapes a (merged dims, bond) factor back to the
// original dims [lo, hi) of src followed by the bond dimension.
func expandBondFactor(f *BTensor, src Shape, lo, hi int) (BTensor, error) {
	dims := make([][]Section, 0, hi-lo+1)
	for d := lo; d < hi; d++ {
		dims = append(dims, src.Dims(d))
	}
	dims = append(dims, f.shape.Dims(1))
	target, err := NewShape(dims, f.shape.rule)
	if err != nil {
		return BTensor{}, err
	}
	return f.ReshapeAs(target, false)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
