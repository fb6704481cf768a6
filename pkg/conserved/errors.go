package conserved

import "github.com/pkg/errors"

// ErrTypeMismatch reports an operation between composite quantities whose
// factor tuples differ, or an insertion of an incompatible element into a
// Vector. Wrapped errors carry both signatures; test with errors.Is.
var ErrTypeMismatch = errors.New("conserved: type mismatch")
