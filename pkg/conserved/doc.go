// Package conserved implements composite Abelian conserved quantities.
//
// A Quantity is a tuple of simple group factors (the integer group Z and
// cyclic groups C_N) treated as a single group element under elementwise
// composition. Quantities label the sections of block-sparse tensors and
// encode their selection rules. The concrete factor tuple of a Quantity is
// chosen at runtime; two quantities interoperate only when their factor
// signatures (kind and modulus, position by position) are identical.
//
// Groups tend to have very short names in the literature. The constructors
// keep those names (Z, C) so code reads like the papers it implements.
package conserved
