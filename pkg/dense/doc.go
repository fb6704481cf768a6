// Package dense adapts the dense tensor backend used by the block-sparse
// engine. Storage and elementwise/structural operations come from
// gorgonia.org/tensor; the matrix decompositions (SVD, symmetric
// eigendecomposition) come from gonum.
//
// Tensor is a value-semantic handle: copying a Tensor shares the
// underlying buffer, which is exactly what block views need. Every
// allocation takes an explicit tensor.Dtype; the package never reads a
// process-wide default scalar type.
package dense
