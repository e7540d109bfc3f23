package rng

import "math/rand/v2"

// Well-known streams. Streams separate independent consumers of the same
// seed so that adding draws to one consumer never shifts another.
const (
	StreamSubsample uint64 = 0xa5a5_0001
	streamAttempt   uint64 = 0x5eed_0000
)

// Generator is a seeded pseudo-random source.
// It is not safe for concurrent use; each training stage owns its own.
type Generator struct {
	r      *rand.Rand
	seed   uint64
	stream uint64
}

// New creates a generator for the given seed and stream.
func New(seed, stream uint64) *Generator {
	return &Generator{
		r:      rand.New(rand.NewPCG(seed, stream)),
		seed:   seed,
		stream: stream,
	}
}

// ForAttempt creates the generator used by a k-means restart attempt.
func ForAttempt(seed uint64, attempt int) *Generator {
	return New(seed, streamAttempt+uint64(attempt))
}

// Reset rewinds the generator to its initial state.
func (g *Generator) Reset() {
	g.r = rand.New(rand.NewPCG(g.seed, g.stream))
}

// Seed returns the seed the generator was created with.
func (g *Generator) Seed() uint64 { return g.seed }

// IntN returns a value in [0, n). It panics if n <= 0.
func (g *Generator) IntN(n int) int {
	return g.r.IntN(n)
}

// IntRange returns a value in [lo, hi). It panics if hi <= lo.
func (g *Generator) IntRange(lo, hi int) int {
	return lo + g.r.IntN(hi-lo)
}

// Float32 returns a value in [0, 1).
func (g *Generator) Float32() float32 {
	return g.r.Float32()
}

// Float64 returns a value in [0, 1).
func (g *Generator) Float64() float64 {
	return g.r.Float64()
}

// ShuffleInts performs an in-place Fisher-Yates shuffle of the first
// limit positions of s. After the call s[:limit] is a uniform sample
// without replacement of the elements of s. limit <= 0 or limit > len(s)
// shuffles the whole slice.
func (g *Generator) ShuffleInts(s []int, limit int) {
	n := len(s)
	if limit <= 0 || limit > n {
		limit = n
	}
	for i := 0; i < limit && i < n-1; i++ {
		j := g.IntRange(i, n)
		s[i], s[j] = s[j], s[i]
	}
}
