package dmrg

import (
	"time"

	"github.com/itohio/quantit/pkg/logger"
	"github.com/itohio/quantit/pkg/mpt"
)

// Logger receives progress callbacks from the optimizer. Implementations
// are free to record as little or as much as they want; BaseLogger
// ignores everything and is the piece to embed when overriding a subset
// of the hooks.
type Logger interface {
	Init(opts Options)
	LogStep(it int)
	LogEnergy(e float64)
	LogBondDims(state *mpt.MPS)
	// ItLogAll fires after every full sweep.
	ItLogAll(it int, e float64, state *mpt.MPS)
	// EndLogAll fires once after the sweep loop finished.
	EndLogAll(it int, e float64, state *mpt.MPS)
}

// BaseLogger is the no-op Logger.
type BaseLogger struct{}

func (BaseLogger) Init(Options)                     {}
func (BaseLogger) LogStep(int)                      {}
func (BaseLogger) LogEnergy(float64)                {}
func (BaseLogger) LogBondDims(*mpt.MPS)             {}
func (BaseLogger) ItLogAll(int, float64, *mpt.MPS)  {}
func (BaseLogger) EndLogAll(int, float64, *mpt.MPS) {}

// SummaryLogger reports the final iteration count, energy and middle
// bond dimension.
type SummaryLogger struct {
	BaseLogger
	Iterations int
	Energy     float64
	MiddleBond int
}

func (l *SummaryLogger) EndLogAll(it int, e float64, state *mpt.MPS) {
	bonds := state.BondDims()
	l.Iterations = it
	l.Energy = e
	l.MiddleBond = bonds[len(bonds)/2]
	logger.Log.Info().
		Int("iterations", it).
		Float64("energy", e).
		Int("middle_bond", l.MiddleBond).
		Msg("dmrg finished")
}

// TimingLogger reports wall-clock timings per sweep.
type TimingLogger struct {
	BaseLogger
	start   time.Time
	last    time.Time
	Sweeps  []time.Duration
	Elapsed time.Duration
}

func (l *TimingLogger) Init(Options) {
	l.start = time.Now()
	l.last = l.start
}

func (l *TimingLogger) ItLogAll(it int, e float64, _ *mpt.MPS) {
	now := time.Now()
	d := now.Sub(l.last)
	l.last = now
	l.Sweeps = append(l.Sweeps, d)
	logger.Log.Debug().
		Int("sweep", it).
		Float64("energy", e).
		Dur("elapsed", d).
		Msg("dmrg sweep")
}

func (l *TimingLogger) EndLogAll(it int, e float64, _ *mpt.MPS) {
	l.Elapsed = time.Since(l.start)
	logger.Log.Info().
		Int("sweeps", it).
		Float64("energy", e).
		Dur("total", l.Elapsed).
		Msg("dmrg timing")
}
