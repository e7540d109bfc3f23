package kmeans

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/hupe1980/kinematch/internal/rng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noisyClusters(seed uint64, n, dim int) []float32 {
	gen := rng.New(seed, 1)
	out := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		center := float32(gen.IntN(5)) * 10
		for d := 0; d < dim; d++ {
			out[i*dim+d] = center + gen.Float32()*3
		}
	}
	return out
}

func TestTrain_ConvergesOnTwoValues(t *testing.T) {
	ctx := context.Background()
	samples := []float32{0, 0, 0, 10, 10, 10}

	km, err := New(1, 2, Settings{NumAttempts: 1, NumIterations: 10, Seed: 42})
	require.NoError(t, err)
	require.NoError(t, km.Train(ctx, samples, 6))
	centroids := km.Centroids()
	require.Len(t, centroids, 2)

	got := []float64{float64(centroids[0]), float64(centroids[1])}
	sort.Float64s(got)
	assert.InDelta(t, 0, got[0], 1e-5)
	assert.InDelta(t, 10, got[1], 1e-5)
}

func TestTrain_SeparatesClusters(t *testing.T) {
	ctx := context.Background()
	vecs := []float32{
		0, 0, 0, 1, 1, 0, // near 0,0
		10, 10, 10, 11, 11, 10, // near 10,10
	}

	km, err := New(2, 2, DefaultSettings())
	require.NoError(t, err)
	require.NoError(t, km.Train(ctx, vecs, 6))
	assert.Len(t, km.Centroids(), 4)

	p1 := km.Assign([]float32{0.5, 0.5}).Index
	p2 := km.Assign([]float32{10.5, 10.5}).Index
	assert.NotEqual(t, p1, p2)
}

func TestKMeans_Deterministic(t *testing.T) {
	ctx := context.Background()
	data := noisyClusters(7, 600, 3)
	settings := Settings{NumAttempts: 3, NumIterations: 8, Seed: 99}

	run := func() *KMeans {
		km, err := New(3, 8, settings, func(o *Options) { o.Workers = 4 })
		require.NoError(t, err)
		require.NoError(t, km.Train(ctx, data, 600))
		return km
	}

	a, b := run(), run()
	assert.Equal(t, a.Centroids(), b.Centroids())
	assert.Equal(t, a.AttemptDistortions(), b.AttemptDistortions())
	assert.Equal(t, a.Distortion(), b.Distortion())
	assert.Equal(t, a.Histogram(), b.Histogram())
}

func TestKMeans_MultiAttemptMonotonicity(t *testing.T) {
	ctx := context.Background()
	data := noisyClusters(3, 400, 2)

	km, err := New(2, 6, Settings{NumAttempts: 5, NumIterations: 4, Seed: 5})
	require.NoError(t, err)
	require.NoError(t, km.Train(ctx, data, 400))

	attempts := km.AttemptDistortions()
	require.Len(t, attempts, 5)
	for _, d := range attempts {
		assert.LessOrEqual(t, km.Distortion(), d)
	}

	// The published centroids carry the selected distortion.
	var total float64
	for i := 0; i < 400; i++ {
		total += float64(km.Assign(data[i*2 : i*2+2]).L2)
	}
	assert.InDelta(t, float64(km.Distortion()), total, 1e-2)
}

func TestKMeans_EmptyClustersKeepCentroids(t *testing.T) {
	ctx := context.Background()
	// Fewer distinct values than clusters forces empty clusters.
	data := []float32{1, 1, 1, 5, 5, 5}

	km, err := New(1, 4, Settings{NumAttempts: 1, NumIterations: 5, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, km.Train(ctx, data, 6))

	for _, c := range km.Centroids() {
		assert.False(t, math.IsNaN(float64(c)))
		near := math.Abs(float64(c)-1) < 1e-5 || math.Abs(float64(c)-5) < 1e-5
		assert.True(t, near, "unexpected centroid %v", c)
	}
	assert.InDelta(t, 0, km.Distortion(), 1e-6)

	hist := km.Histogram()
	var populated int
	for _, h := range hist {
		if h > 0 {
			populated++
		}
	}
	assert.Equal(t, 2, populated)
}

func TestKMeans_FewerSamplesThanClusters(t *testing.T) {
	km, err := New(2, 8, DefaultSettings())
	require.NoError(t, err)
	require.NoError(t, km.Train(context.Background(), []float32{1, 2, 3, 4}, 2))
	assert.True(t, km.Trained())
	for _, c := range km.Centroids() {
		assert.False(t, math.IsNaN(float64(c)))
	}
}

func TestKMeans_PrepareTrainingJobQueue(t *testing.T) {
	ctx := context.Background()
	data := noisyClusters(1, 100, 2)
	settings := Settings{NumAttempts: 2, NumIterations: 3, Seed: 1}

	km, err := New(2, 4, settings)
	require.NoError(t, err)

	q, err := km.PrepareTrainingJobQueue(data, 100, 2)
	require.NoError(t, err)
	// (init + iterations + post-attempt) per attempt + post-training
	assert.Equal(t, 2*(1+3+1)+1, q.Len())
	assert.False(t, km.Trained())

	var last float32
	var updates int
	for !q.Done() {
		p, err := q.FrameUpdate(ctx)
		require.NoError(t, err)
		assert.Greater(t, p, last)
		last = p
		updates++
	}
	assert.Equal(t, 6, updates)
	assert.True(t, km.Trained())

	// Same result as the synchronous path.
	ref, err := New(2, 4, settings)
	require.NoError(t, err)
	require.NoError(t, ref.Train(ctx, data, 100))
	assert.Equal(t, ref.Centroids(), km.Centroids())
}

func TestKMeans_Errors(t *testing.T) {
	_, err := New(0, 2, DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = New(2, 2, Settings{NumAttempts: 0, NumIterations: 1})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = New(2, 2, Settings{NumAttempts: 1, NumIterations: 0})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	km, err := New(2, 2, DefaultSettings())
	require.NoError(t, err)
	_, err = km.PrepareTrainingJobQueue(nil, 0, 1)
	assert.ErrorIs(t, err, ErrNoSamples)
	_, err = km.PrepareTrainingJobQueue([]float32{1}, 1, 1)
	assert.Error(t, err)
}

func TestKMeans_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	km, err := New(2, 10, DefaultSettings())
	require.NoError(t, err)
	err = km.Train(ctx, noisyClusters(1, 1000, 2), 1000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImbalanceFactor(t *testing.T) {
	assert.InDelta(t, 1.0, ImbalanceFactor([]int{5, 5, 5, 5}), 1e-6)
	assert.InDelta(t, 4.0, ImbalanceFactor([]int{20, 0, 0, 0}), 1e-6)
	assert.Equal(t, float32(0), ImbalanceFactor([]int{0, 0}))
}

func TestNearest_TieLowestIndex(t *testing.T) {
	centroids := []float32{1, 1, 1}
	assert.Equal(t, 0, nearest([]float32{1}, centroids, 1, 3).Index)
}
