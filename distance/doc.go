// Package distance provides the feature-space metrics used by codebook
// training, pose search and transition cost evaluation.
//
// All functions assume equal-length inputs (caller's responsibility).
//
// # Usage
//
//	d2 := distance.SquaredL2(a, b)   // k-means assignment, PQ encoding
//	d := distance.Euclidean(a, b)     // pose cost
//	dot := distance.Dot(a, b)
package distance
