// Package btensor implements block-sparse tensors whose non-zero
// structure is dictated by Abelian conservation laws.
//
// Each dimension of a tensor is partitioned into sections with independent
// sizes, and each section carries a composite conserved quantity. Blocks
// are formed by the intersection of one section per dimension; only blocks
// whose section-quantity product equals the tensor's selection rule may
// hold data. Blocks that would violate the rule are never stored and never
// touched by arithmetic; a missing allowed block is the zero tensor of its
// prescribed shape.
//
// Dense sub-tensors are handles from the dense adapter package; views
// produced by indexing share those handles with their source.
package btensor
