package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/kinematch/distance"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbor is a fragment index paired with its feature-space distance.
type Neighbor struct {
	Index    int
	Distance float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FillGaussian fills dst with standard normal values.
func (r *RNG) FillGaussian(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = float32(r.rand.NormFloat64())
	}
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// GaussianVectors generates random vectors with values from a standard normal distribution.
func (r *RNG) GaussianVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVectors generates L2-normalized random vectors.
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	vectors := r.GaussianVectors(num, dimensions)
	for _, vec := range vectors {
		if !distance.NormalizeL2InPlace(vec) {
			vec[0] = 1
		}
	}
	return vectors
}

// ClusteredVectors generates vectors clustered around random unit centroids.
// Vector i belongs to cluster i%clusters.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	// UnitVectors takes the lock itself.
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := range num {
		centroid := centroids[i%clusters]
		vec := data[i*dim : (i+1)*dim]

		for j := range dim {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}

	return vectors
}

// Flatten copies vectors into one row-major slice.
func Flatten(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float32, 0, len(vectors)*len(vectors[0]))
	for _, v := range vectors {
		out = append(out, v...)
	}
	return out
}

// DatabaseConfig shapes a synthetic motion database.
type DatabaseConfig struct {
	Segments         int
	FramesPerSegment int
	Features         int
	Trajectory       int
	Clusters         int
	Spread           float32
	SampleRate       float32
	// Tags are assigned round-robin, one per segment. Empty leaves segments untagged.
	Tags []string
}

// DefaultDatabaseConfig returns a small database suitable for unit tests.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Segments:         4,
		FramesPerSegment: 64,
		Features:         8,
		Trajectory:       4,
		Clusters:         6,
		Spread:           0.05,
		SampleRate:       30,
	}
}

// Database builds a motion database whose features are clustered and whose
// root walks forward along +Z, one segment after another.
func (r *RNG) Database(cfg DatabaseConfig) (*fragment.MemoryDatabase, error) {
	n := cfg.Segments * cfg.FramesPerSegment
	features := r.ClusteredVectors(n, cfg.Features, cfg.Clusters, cfg.Spread)

	var trajectory [][]float32
	if cfg.Trajectory > 0 {
		trajectory = r.GaussianVectors(n, cfg.Trajectory)
	}

	b := fragment.NewBuilder(cfg.Features, cfg.Trajectory, cfg.SampleRate)
	step := 1.0 / float64(cfg.SampleRate)

	for s := range cfg.Segments {
		var tags []string
		if len(cfg.Tags) > 0 {
			tags = []string{cfg.Tags[s%len(cfg.Tags)]}
		}
		b.BeginSegment("segment", tags...)

		for f := range cfg.FramesPerSegment {
			i := s*cfg.FramesPerSegment + f
			root := geom.FromYaw(r3.Vec{Z: float64(f) * step}, 0)

			var traj []float32
			if trajectory != nil {
				traj = trajectory[i]
			}
			if err := b.AddFrame(root, features[i], traj); err != nil {
				return nil, err
			}
		}
	}

	return b.Build()
}

// ExactNearest returns the k rows of data closest to query by Euclidean
// distance, ascending. Ties keep the lower index first.
func ExactNearest(query []float32, data [][]float32, k int) []Neighbor {
	out := make([]Neighbor, len(data))
	for i, row := range data {
		out[i] = Neighbor{Index: i, Distance: float32(math.Sqrt(float64(distance.SquaredL2(query, row))))}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Distance < out[b].Distance })
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// ComputeRecall computes recall@k by comparing approximate results against ground truth.
func ComputeRecall(groundTruth, approximate []Neighbor) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[int]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].Index] = struct{}{}
	}

	hits := 0
	for _, r := range approximate[:k] {
		if _, ok := truthSet[r.Index]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
