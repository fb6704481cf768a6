// Package mpt implements tensor-train containers over block-sparse
// tensors: the free-form MPT, the rank-3 matrix product state (MPS) with
// orthogonality-center bookkeeping, and the rank-4 matrix product
// operator (MPO), together with their contraction primitives and random
// state construction.
package mpt
