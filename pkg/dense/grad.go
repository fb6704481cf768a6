package dense

import "sync/atomic"

// gradEnabled mirrors the autograd recording switch of tape-based
// backends. The gorgonia dense backend records nothing, but optimizer
// entry points still acquire the no-grad scope so that swapping in a
// recording backend keeps the contract: gradients are tracked only when a
// caller explicitly asks for them.
var gradEnabled atomic.Bool

// GradEnabled reports whether gradient recording is requested.
func GradEnabled() bool { return gradEnabled.Load() }

// SetGradEnabled sets the recording switch and returns the previous value.
func SetGradEnabled(on bool) bool { return gradEnabled.Swap(on) }

// NoGrad disables gradient recording and returns a restore func to defer.
func NoGrad() (restore func()) {
	prev := gradEnabled.Swap(false)
	return func() { gradEnabled.Store(prev) }
}
