package mpt

import "github.com/pkg/errors"

var (
	// ErrInvalidOC reports a request to move the orthogonality center
	// outside [0, L).
	ErrInvalidOC = errors.New("mpt: orthogonality center out of range")

	// ErrBadChain reports tensors that do not form a valid train:
	// wrong ranks, mismatched virtual bonds or edge bonds of extent
	// other than one.
	ErrBadChain = errors.New("mpt: malformed tensor train")
)
