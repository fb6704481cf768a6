package dmrg

import (
	"github.com/itohio/quantit/pkg/btensor"
	"github.com/itohio/quantit/pkg/mpt"
)

// EnvHolder stores the length-L+2 environment sequence with trivial edge
// tensors at logical positions -1 and L.
type EnvHolder struct {
	env []btensor.BTensor
}

// At addresses the environment of site i; -1 and L are the edges.
func (e *EnvHolder) At(i int) *btensor.BTensor { return &e.env[i+1] }

func (e *EnvHolder) set(i int, t btensor.BTensor) { e.env[i+1] = t }

// GenerateEnv builds the environments of every site on the far side of
// the orthogonality center: left environments below it, right
// environments above it, and the two trivial edges.
func GenerateEnv(hamil mpt.MPO, state *mpt.MPS) (*EnvHolder, error) {
	l := state.Len()
	e := &EnvHolder{env: make([]btensor.BTensor, l+2)}

	leftConj := state.At(0).Conj()
	left, err := mpt.EnvEdge(state.At(0), hamil.At(0), &leftConj, 0)
	if err != nil {
		return nil, err
	}
	e.set(-1, left)
	rightConj := state.At(l - 1).Conj()
	right, err := mpt.EnvEdge(state.At(l-1), hamil.At(l-1), &rightConj, 2)
	if err != nil {
		return nil, err
	}
	e.set(l, right)

	for i := 0; i < state.OC(); i++ {
		conj := state.At(i).Conj()
		env, err := mpt.FoldLeftEnv(e.At(i-1), state.At(i), hamil.At(i), &conj)
		if err != nil {
			return nil, err
		}
		e.set(i, env)
	}
	for i := l - 1; i > state.OC(); i-- {
		conj := state.At(i).Conj()
		env, err := mpt.FoldRightEnv(e.At(i+1), state.At(i), hamil.At(i), &conj)
		if err != nil {
			return nil, err
		}
		e.set(i, env)
	}
	return e, nil
}

// Compute2SiteHamil contracts neighbouring operator tensors on their
// shared virtual bond and regroups the physical indices: the result at
// site i is rank 6, ordered (left, out_i, out_i+1, right, in_i, in_i+1).
func Compute2SiteHamil(hamil mpt.MPO) (mpt.MPT, error) {
	l := hamil.Len()
	out := make(mpt.MPT, l-1)
	for i := 0; i < l-1; i++ {
		prod, err := btensor.Tensordot(hamil.At(i), hamil.At(i+1), []int{2}, []int{0})
		if err != nil {
			return nil, err
		}
		perm, err := prod.Permute([]int{0, 1, 3, 4, 2, 5})
		if err != nil {
			return nil, err
		}
		out[i] = perm
	}
	return out, nil
}
