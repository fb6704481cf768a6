package dmrg

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/itohio/quantit/pkg/btensor"
	"github.com/itohio/quantit/pkg/conserved"
	"github.com/itohio/quantit/pkg/dense"
	"github.com/itohio/quantit/pkg/mpt"
)

// lanczosBreakdown is the |b| below which the Krylov step degenerates to
// the identity update.
const lanczosBreakdown = 1e-15

// hamil2SiteTimesState applies the two-site Hamiltonian to the two-site
// state through the left and right environments.
func hamil2SiteTimesState(state, hamil, lenv, renv *btensor.BTensor) (btensor.BTensor, error) {
	out, err := btensor.Tensordot(lenv, state, []int{0}, []int{0})
	if err != nil {
		return btensor.BTensor{}, err
	}
	out, err = btensor.Tensordot(&out, hamil, []int{0, 2, 3}, []int{0, 4, 5})
	if err != nil {
		return btensor.BTensor{}, err
	}
	return btensor.Tensordot(&out, renv, []int{1, 4}, []int{0, 1})
}

// braket fully contracts a with the conjugate of b.
func braket(a, b *btensor.BTensor) (float64, error) {
	bc := b.Conj()
	all := make([]int, a.Dim())
	for i := range all {
		all[i] = i
	}
	r, err := btensor.Tensordot(a, &bc, all, all)
	if err != nil {
		return 0, err
	}
	return r.Item()
}

// eig2x2 solves the symmetric eigenproblem [[a0, b], [b, a1]] in closed
// form and returns the lower eigenvalue with its eigenvector. The
// b-coefficient formula keeps the phase information a normalization
// through o^2+n^2=1 would lose.
func eig2x2(a0, a1, b float64) (e, c0, c1 float64) {
	if math.Abs(b) < lanczosBreakdown {
		return a0, 1, 0
	}
	crit := math.Sqrt((a0-a1)*(a0-a1) + 4*b*b)
	e = (a0 + a1 - crit) / 2
	c0 = math.Sqrt((e - a1) / (-crit))
	c1 = -b * c0 / (a1 - e)
	return e, c0, c1
}

// oneStepLanczos builds the single Krylov vector of the 2x2 update.
func oneStepLanczos(state, hamil, lenv, renv *btensor.BTensor) (phi btensor.BTensor, a0, a1, b float64, err error) {
	hPsi, err := hamil2SiteTimesState(state, hamil, lenv, renv)
	if err != nil {
		return phi, 0, 0, 0, err
	}
	a0, err = braket(&hPsi, state)
	if err != nil {
		return phi, 0, 0, 0, err
	}
	phi, err = btensor.Add(&hPsi, state, 1, -a0)
	if err != nil {
		return phi, 0, 0, 0, err
	}
	b = phi.Norm()
	if b > lanczosBreakdown {
		phi.MulScalarInPlace(1 / b)
	}
	hPhi, err := hamil2SiteTimesState(&phi, hamil, lenv, renv)
	if err != nil {
		return phi, 0, 0, 0, err
	}
	a1, err = braket(&hPhi, &phi)
	if err != nil {
		return phi, 0, 0, 0, err
	}
	return phi, a0, a1, b, nil
}

// twoSitesUpdate performs the 2x2 Lanczos step and returns the improved
// two-site state with its energy.
func twoSitesUpdate(state, hamil, lenv, renv *btensor.BTensor) (float64, btensor.BTensor, error) {
	phi, a0, a1, b, err := oneStepLanczos(state, hamil, lenv, renv)
	if err != nil {
		return 0, btensor.BTensor{}, err
	}
	e, c0, c1 := eig2x2(a0, a1, b)
	if c1 == 0 {
		return e, state.Clone(), nil
	}
	updated, err := btensor.Add(state, &phi, c0, c1)
	if err != nil {
		return 0, btensor.BTensor{}, err
	}
	return e, updated, nil
}

// DMRG minimizes <state|hamil|state> by two-site sweeps, leaving the
// optimized state in place and returning its energy. The state must be a
// well-formed MPS over the operator's physical dimensions. Gradient
// recording in the dense backend is disabled for the duration of the
// call unless the options request tracking.
func DMRG(hamil mpt.MPO, state *mpt.MPS, opts Options, log Logger) (float64, error) {
	if log == nil {
		log = BaseLogger{}
	}
	if !opts.TrackStateGradient && !opts.TrackHamilGradient {
		defer dense.NoGrad()()
	}
	if err := state.CheckRanks(); err != nil {
		return 0, err
	}
	if hamil.Len() != state.Len() {
		return 0, errors.Wrapf(mpt.ErrBadChain, "operator has %d sites, state has %d", hamil.Len(), state.Len())
	}
	if state.Len() < 2 {
		return 0, errors.Wrap(mpt.ErrBadChain, "two-site DMRG needs at least two sites")
	}
	env, err := GenerateEnv(hamil, state)
	if err != nil {
		return 0, err
	}
	twoSite, err := Compute2SiteHamil(hamil)
	if err != nil {
		return 0, err
	}
	return dmrgImpl(hamil, twoSite, state, opts, env, log)
}

// DMRGRandom seeds a random state in the target sector from the
// operator's physical dimensions and optimizes it.
func DMRGRandom(hamil mpt.MPO, target conserved.Quantity, opts Options, log Logger, rng *rand.Rand) (float64, *mpt.MPS, error) {
	bond := opts.MinBond
	if bond < 1 {
		bond = 1
	}
	state, err := mpt.RandomMPS(mpt.PhysicalDims(hamil), target, bond, hamil.At(0).Dtype(), rng)
	if err != nil {
		return 0, nil, err
	}
	e, err := DMRG(hamil, state, opts, log)
	return e, state, err
}

// halfStep runs one two-site update at the current center and shifts it
// by step. Forward steps leave the left factor isometric and advance the
// left environment; backward steps mirror that.
func halfStep(hamil mpt.MPO, twoSite mpt.MPT, state *mpt.MPS, env *EnvHolder, opts Options, step int) (float64, error) {
	oc := state.OC()
	forward := step == 1
	theta, err := btensor.Tensordot(state.At(oc), state.At(oc+1), []int{2}, []int{0})
	if err != nil {
		return 0, err
	}
	e, theta2, err := twoSitesUpdate(&theta, &twoSite[oc], env.At(oc-1), env.At(oc+2))
	if err != nil {
		return 0, err
	}
	u, d, v, err := btensor.SVDSplitTrunc(&theta2, 2, btensor.TruncOpts{
		Tol:     opts.Cutoff,
		Pow:     2,
		MinSize: opts.MinBond,
		MaxSize: opts.MaxBond,
	})
	if err != nil {
		return 0, err
	}
	if n := d.Norm(); n > 0 {
		d.MulScalarInPlace(1 / n)
	}
	if forward {
		dv, err := btensor.Tensordot(&d, &v, []int{1}, []int{2})
		if err != nil {
			return 0, err
		}
		state.Tensors[oc] = u
		state.Tensors[oc+1] = dv
		conj := state.At(oc).Conj()
		newEnv, err := mpt.FoldLeftEnv(env.At(oc-1), state.At(oc), hamil.At(oc), &conj)
		if err != nil {
			return 0, err
		}
		env.set(oc, newEnv)
	} else {
		ud, err := btensor.Tensordot(&u, &d, []int{2}, []int{0})
		if err != nil {
			return 0, err
		}
		iso, err := v.Permute([]int{2, 0, 1})
		if err != nil {
			return 0, err
		}
		state.Tensors[oc] = ud
		state.Tensors[oc+1] = iso
		conj := state.At(oc + 1).Conj()
		newEnv, err := mpt.FoldRightEnv(env.At(oc+2), state.At(oc+1), hamil.At(oc+1), &conj)
		if err != nil {
			return 0, err
		}
		env.set(oc+1, newEnv)
	}
	state.SetOCUnchecked(oc + step)
	return e, nil
}

func dmrgImpl(hamil mpt.MPO, twoSite mpt.MPT, state *mpt.MPS, opts Options, env *EnvHolder, log Logger) (float64, error) {
	l := state.Len()
	nStep := l - 1
	initPos := state.OC()
	if state.OC() == l-1 {
		state.SetOCUnchecked(l - 2)
	}
	step := 1
	if state.OC() != 0 {
		step = -1
	}
	if l == 2 {
		// a single pair; the center never moves and every half-step
		// re-optimizes it
		step = 0
		state.SetOCUnchecked(0)
	}
	rightEdge := l - 2

	log.Init(opts)
	e0 := math.Inf(1)
	it := 0
	for ; it < opts.MaxIterations; it++ {
		var e float64
		for s := 0; s < 2*nStep; s++ {
			var err error
			e, err = halfStep(hamil, twoSite, state, env, opts, step)
			if err != nil {
				return e0, err
			}
			if oc := state.OC(); step != 0 && (oc == 0 || oc == rightEdge) {
				step = -step
			}
		}
		log.LogStep(it)
		log.LogEnergy(e)
		log.LogBondDims(state)
		log.ItLogAll(it, e, state)
		prev := e0
		e0 = e
		// the inverted comparison stops on NaN as well
		if !(math.Abs(e0-prev) > opts.Convergence) {
			break
		}
	}
	if state.OC() != initPos {
		if err := state.MoveOC(initPos); err != nil {
			return e0, err
		}
	}
	log.EndLogAll(it, e0, state)
	return e0, nil
}
