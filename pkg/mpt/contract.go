package mpt

import (
	"github.com/itohio/quantit/pkg/btensor"
	"github.com/itohio/quantit/pkg/conserved"
	"github.com/itohio/quantit/pkg/dense"
	"gorgonia.org/tensor"
)

// edgeRank2 builds the rank-2 boundary tensor closing an overlap fold:
// a single size-1 block of ones over the given bond sections.
func edgeRank2(ket, bra btensor.Section, dt tensor.Dtype) (btensor.BTensor, error) {
	rule := conserved.MustCompose(ket.Qtt, bra.Qtt)
	shape, err := btensor.NewShape([][]btensor.Section{{ket}, {bra}}, rule)
	if err != nil {
		return btensor.BTensor{}, err
	}
	t := btensor.New(shape, dt)
	if err := t.SetBlock(btensor.Index{0, 0}, dense.Ones(dt, ket.Size, bra.Size)); err != nil {
		return btensor.BTensor{}, err
	}
	return t, nil
}

// edgeRank3 is the rank-3 analogue with an operator bond in the middle.
func edgeRank3(ket, op, bra btensor.Section, dt tensor.Dtype) (btensor.BTensor, error) {
	rule := conserved.MustCompose(conserved.MustCompose(ket.Qtt, op.Qtt), bra.Qtt)
	shape, err := btensor.NewShape([][]btensor.Section{{ket}, {op}, {bra}}, rule)
	if err != nil {
		return btensor.BTensor{}, err
	}
	t := btensor.New(shape, dt)
	if err := t.SetBlock(btensor.Index{0, 0, 0}, dense.Ones(dt, ket.Size, op.Size, bra.Size)); err != nil {
		return btensor.BTensor{}, err
	}
	return t, nil
}

// dualEdgeSection builds the boundary section pairing a chain tensor's
// bond dimension: same extent, inverse quantity.
func dualEdgeSection(t *btensor.BTensor, dim int) btensor.Section {
	s := t.Shape()
	return btensor.Section{Size: s.SectionSize(dim, 0), Qtt: s.SectionQtt(dim, 0).Inverse()}
}

// braEdgeSection pairs the conjugate of a chain tensor's bond dimension,
// whose quantities are already inverted: same extent, same quantity.
func braEdgeSection(t *btensor.BTensor, dim int) btensor.Section {
	s := t.Shape()
	return btensor.Section{Size: s.SectionSize(dim, 0), Qtt: s.SectionQtt(dim, 0)}
}

// Contract computes the overlap <a|b> by a left fold through the chain,
// one bra and one ket site at a time.
func Contract(a, b *MPS) (float64, error) {
	left, err := edgeRank2(dualEdgeSection(b.At(0), 0), braEdgeSection(a.At(0), 0), b.At(0).Dtype())
	if err != nil {
		return 0, err
	}
	last := a.Len() - 1
	right, err := edgeRank2(dualEdgeSection(b.At(last), 2), braEdgeSection(a.At(last), 2), b.At(0).Dtype())
	if err != nil {
		return 0, err
	}
	return ContractWithEdges(a, b, &left, &right)
}

// ContractWithEdges is the mid-chain overlap: the rank-2 edge tensors
// close the fold on (ket bond, bra bond) ordering at both ends.
func ContractWithEdges(a, b *MPS, left, right *btensor.BTensor) (float64, error) {
	f := *left
	for i := 0; i < a.Len(); i++ {
		conj := a.At(i).Conj()
		var err error
		f, err = foldOverlap(&f, b.At(i), &conj)
		if err != nil {
			return 0, err
		}
	}
	closed, err := btensor.Tensordot(&f, right, []int{0, 1}, []int{0, 1})
	if err != nil {
		return 0, err
	}
	return closed.Item()
}

// foldOverlap advances the rank-2 overlap fold by one site.
func foldOverlap(f *btensor.BTensor, ket, braConj *btensor.BTensor) (btensor.BTensor, error) {
	fk, err := btensor.Tensordot(f, ket, []int{0}, []int{0})
	if err != nil {
		return btensor.BTensor{}, err
	}
	return btensor.Tensordot(&fk, braConj, []int{0, 1}, []int{0, 1})
}

// ContractOp computes the sandwich <a|op|b> with a three-way left fold,
// inserting one operator tensor per site.
func ContractOp(a, b *MPS, op MPO) (float64, error) {
	dt := b.At(0).Dtype()
	left, err := edgeRank3(dualEdgeSection(b.At(0), 0), dualEdgeSection(op.At(0), 0), braEdgeSection(a.At(0), 0), dt)
	if err != nil {
		return 0, err
	}
	last := a.Len() - 1
	right, err := edgeRank3(dualEdgeSection(b.At(last), 2), dualEdgeSection(op.At(last), 2), braEdgeSection(a.At(last), 2), dt)
	if err != nil {
		return 0, err
	}
	return ContractOpWithEdges(a, b, op, &left, &right)
}

// ContractOpWithEdges is the mid-chain sandwich: the rank-3 edge tensors
// close the fold on (ket bond, operator bond, bra bond) ordering.
func ContractOpWithEdges(a, b *MPS, op MPO, left, right *btensor.BTensor) (float64, error) {
	f := *left
	for i := 0; i < a.Len(); i++ {
		conj := a.At(i).Conj()
		var err error
		f, err = FoldLeftEnv(&f, b.At(i), op.At(i), &conj)
		if err != nil {
			return 0, err
		}
	}
	closed, err := btensor.Tensordot(&f, right, []int{0, 1, 2}, []int{0, 1, 2})
	if err != nil {
		return 0, err
	}
	return closed.Item()
}

// FoldLeftEnv advances a rank-3 environment fold by one site. The fold
// tensor is ordered (ket bond, operator bond, bra bond); the operator
// tensor (left, out, right, in).
func FoldLeftEnv(f, ket, op, braConj *btensor.BTensor) (btensor.BTensor, error) {
	out, err := btensor.Tensordot(f, ket, []int{0}, []int{0})
	if err != nil {
		return btensor.BTensor{}, err
	}
	out, err = btensor.Tensordot(&out, op, []int{0, 2}, []int{0, 3})
	if err != nil {
		return btensor.BTensor{}, err
	}
	return btensor.Tensordot(&out, braConj, []int{0, 2}, []int{0, 1})
}

// EnvEdge builds the trivial rank-3 environment tensor closing a
// three-way fold at bond dimension dim of the given site tensors. The
// bra tensor is expected already conjugated.
func EnvEdge(ket, op, braConj *btensor.BTensor, dim int) (btensor.BTensor, error) {
	return edgeRank3(dualEdgeSection(ket, dim), dualEdgeSection(op, dim), dualEdgeSection(braConj, dim), ket.Dtype())
}

// FoldRightEnv is the mirror fold from the right edge; same index
// ordering, no mirroring of the site tensors.
func FoldRightEnv(f, ket, op, braConj *btensor.BTensor) (btensor.BTensor, error) {
	out, err := btensor.Tensordot(f, ket, []int{0}, []int{2})
	if err != nil {
		return btensor.BTensor{}, err
	}
	out, err = btensor.Tensordot(&out, op, []int{0, 3}, []int{2, 3})
	if err != nil {
		return btensor.BTensor{}, err
	}
	return btensor.Tensordot(&out, braConj, []int{3, 0}, []int{1, 2})
}
