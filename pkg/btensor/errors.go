package btensor

import "github.com/pkg/errors"

var (
	// ErrSelectionRule reports an attempt to allocate or write a block
	// whose section-quantity product does not equal the selection rule.
	ErrSelectionRule = errors.New("btensor: selection rule violation")

	// ErrShapeMismatch reports per-dimension sections differing in count,
	// size or quantity when an operation requires matching shapes.
	ErrShapeMismatch = errors.New("btensor: shape mismatch")

	// ErrReshapeIncompatible reports a reshape target whose quantities do
	// not factor the source's quantities.
	ErrReshapeIncompatible = errors.New("btensor: reshape incompatible")

	// ErrNotFound reports access to an absent block or an out-of-range
	// index.
	ErrNotFound = errors.New("btensor: not found")

	// ErrCorruptTensor reports a violated internal invariant found by
	// CheckTensor.
	ErrCorruptTensor = errors.New("btensor: corrupt tensor")
)
