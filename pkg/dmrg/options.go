package dmrg

import (
	"gopkg.in/yaml.v3"

	"github.com/itohio/quantit/pkg/options"
)

// Options steers a DMRG run. The zero value is not useful; start from
// DefaultOptions or NewOptions.
type Options struct {
	// Cutoff is the truncation tolerance of the two-site SVD step.
	Cutoff float64 `yaml:"cutoff"`
	// Convergence stops the sweep loop once the energy delta between
	// iterations falls below it.
	Convergence float64 `yaml:"convergence_criterion"`
	// MinBond and MaxBond bound the bond dimension kept by truncation.
	// MaxBond zero means unbounded.
	MinBond int `yaml:"minimum_bond"`
	MaxBond int `yaml:"maximum_bond"`
	// MaxIterations bounds the number of full sweeps. Reaching it is the
	// normal outcome when convergence is slow, not an error.
	MaxIterations int `yaml:"maximum_iterations"`
	// TrackStateGradient and TrackHamilGradient re-enable gradient
	// recording in the dense backend for the state or Hamiltonian.
	TrackStateGradient bool `yaml:"state_gradient"`
	TrackHamilGradient bool `yaml:"hamil_gradient"`
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		Cutoff:        1e-6,
		Convergence:   1e-5,
		MinBond:       4,
		MaxBond:       0,
		MaxIterations: 1000,
	}
}

// NewOptions applies functional options on top of the defaults.
func NewOptions(opts ...options.Option) Options {
	o := DefaultOptions()
	options.ApplyOptions(&o, opts...)
	return o
}

// OptionsFromYAML loads settings from a YAML document, with defaults for
// absent keys.
func OptionsFromYAML(data []byte) (Options, error) {
	o := DefaultOptions()
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, err
	}
	return o, nil
}

func WithCutoff(v float64) options.Option {
	return func(cfg interface{}) {
		if o, ok := cfg.(*Options); ok {
			o.Cutoff = v
		}
	}
}

func WithConvergence(v float64) options.Option {
	return func(cfg interface{}) {
		if o, ok := cfg.(*Options); ok {
			o.Convergence = v
		}
	}
}

func WithBondLimits(min, max int) options.Option {
	return func(cfg interface{}) {
		if o, ok := cfg.(*Options); ok {
			o.MinBond, o.MaxBond = min, max
		}
	}
}

func WithMaxIterations(n int) options.Option {
	return func(cfg interface{}) {
		if o, ok := cfg.(*Options); ok {
			o.MaxIterations = n
		}
	}
}

func WithGradientTracking(state, hamil bool) options.Option {
	return func(cfg interface{}) {
		if o, ok := cfg.(*Options); ok {
			o.TrackStateGradient = state
			o.TrackHamilGradient = hamil
		}
	}
}
