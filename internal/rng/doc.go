// Package rng provides the deterministic random source shared by every
// stochastic step of codebook training.
//
// A Generator is always constructed from an explicit seed; there is no
// package-level state and no wall-clock seeding. Two generators created with
// the same (seed, stream) pair produce identical sequences.
package rng
