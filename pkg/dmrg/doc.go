// Package dmrg implements the two-site density-matrix renormalization
// group optimizer over block-sparse matrix product states: environment
// maintenance, a closed-form 2x2 Lanczos update for the local two-site
// eigenproblem, a truncating SVD step, and the sweep schedule.
package dmrg
