// Package testutil provides testing utilities for kinematch.
//
// This package is intended for use in tests and benchmarks only.
// It provides seeded feature generators, synthetic motion databases and
// brute-force nearest neighbors for recall checks.
//
// # Random Features
//
//	rng := testutil.NewRNG(seed)
//	vec := make([]float32, 16)
//	rng.FillUniform(vec)      // uniform [0, 1)
//	rng.FillGaussian(vec)     // standard normal
//
// # Synthetic Databases
//
//	db, err := rng.Database(testutil.DefaultDatabaseConfig())
//
// # Ground Truth
//
//	truth := testutil.ExactNearest(query, rows, k)
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
