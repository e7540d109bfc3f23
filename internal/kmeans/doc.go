// Package kmeans implements k-means clustering for codebook training.
//
// Training is expressed as a job queue (see PrepareTrainingJobQueue) so a
// caller can spread it over many frames: one init stage per attempt, one
// stage per Lloyd iteration, one post-attempt stage that keeps the
// lowest-distortion centroids, and a final post-training stage.
//
// Results are bit-for-bit reproducible for a fixed (seed, attempts,
// iterations, input order). The per-attempt random source is derived from
// (seed, attempt) and is the only entropy used.
package kmeans
