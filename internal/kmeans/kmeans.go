package kmeans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"github.com/hupe1980/kinematch/distance"
	"github.com/hupe1980/kinematch/internal/jobqueue"
	"github.com/hupe1980/kinematch/internal/rng"
	"github.com/viterin/vek/vek32"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidSettings is returned for out-of-range training settings.
	ErrInvalidSettings = errors.New("kmeans: invalid settings")
	// ErrInvalidShape is returned for a non-positive dimension or cluster count.
	ErrInvalidShape = errors.New("kmeans: dimension and k must be positive")
	// ErrNoSamples is returned when training is requested without samples.
	ErrNoSamples = errors.New("kmeans: no training samples")
	// ErrNotTrained is returned when results are read before training completed.
	ErrNotTrained = errors.New("kmeans: not trained")
)

// minSamplesPerWorker keeps tiny training sets on a single goroutine.
const minSamplesPerWorker = 256

// Settings controls a training session. It is copied on use.
type Settings struct {
	NumAttempts   int
	NumIterations int
	Seed          uint64
}

// DefaultSettings returns the settings used by the asset builder.
func DefaultSettings() Settings {
	return Settings{
		NumAttempts:   1,
		NumIterations: 25,
		Seed:          1234,
	}
}

// Validate checks the settings ranges.
func (s Settings) Validate() error {
	if s.NumAttempts < 1 {
		return fmt.Errorf("%w: numAttempts must be >= 1, got %d", ErrInvalidSettings, s.NumAttempts)
	}
	if s.NumIterations < 1 {
		return fmt.Errorf("%w: numIterations must be >= 1, got %d", ErrInvalidSettings, s.NumIterations)
	}
	return nil
}

// Distance is the assignment of one sample in the current iteration.
type Distance struct {
	Index int     // assigned centroid
	L2    float32 // squared distance to it
}

// Options configures a KMeans instance.
type Options struct {
	// Workers bounds the goroutines used by the assignment step.
	// Zero uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// KMeans clusters dim-dimensional samples into k centroids.
//
// All buffers are owned by the instance for the lifetime of a training
// session. A KMeans must not be trained by two sessions concurrently.
type KMeans struct {
	dim      int
	k        int
	settings Settings
	opts     Options

	centroids     []float32
	bestCentroids []float32
	// errors[0] is the distortion of the current attempt,
	// errors[1] the best distortion seen so far.
	errors        [2]float32
	attemptErrors []float32
	distances     []Distance
	histogram     []int
	sums          []float32
	minDist       []float64

	features []float32
	n        int
	trained  bool
}

// New creates a KMeans trainer.
func New(dim, k int, settings Settings, optFns ...func(o *Options)) (*KMeans, error) {
	if dim <= 0 || k <= 0 {
		return nil, ErrInvalidShape
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &KMeans{
		dim:       dim,
		k:         k,
		settings:  settings,
		opts:      opts,
		centroids: make([]float32, k*dim),
		histogram: make([]int, k),
		sums:      make([]float32, k*dim),
	}, nil
}

// Dim returns the sample dimension.
func (km *KMeans) Dim() int { return km.dim }

// K returns the number of centroids.
func (km *KMeans) K() int { return km.k }

// Settings returns a copy of the training settings.
func (km *KMeans) Settings() Settings { return km.settings }

// PrepareTrainingJobQueue builds the staged training pipeline for the first
// numSamples samples of features (row-major, numSamples*dim floats).
// Nothing is computed until the returned queue is advanced.
func (km *KMeans) PrepareTrainingJobQueue(features []float32, numSamples, batchCount int, optFns ...func(o *jobqueue.Options)) (*jobqueue.Queue, error) {
	if numSamples <= 0 {
		return nil, ErrNoSamples
	}
	if len(features) < numSamples*km.dim {
		return nil, fmt.Errorf("kmeans: need %d floats for %d samples, got %d", numSamples*km.dim, numSamples, len(features))
	}

	q, err := jobqueue.New(batchCount, optFns...)
	if err != nil {
		return nil, err
	}

	km.features = features[:numSamples*km.dim]
	km.n = numSamples
	km.trained = false
	km.distances = make([]Distance, numSamples)
	km.minDist = make([]float64, numSamples)
	km.attemptErrors = make([]float32, 0, km.settings.NumAttempts)
	km.errors = [2]float32{}
	if km.settings.NumAttempts > 1 {
		km.bestCentroids = make([]float32, km.k*km.dim)
	}

	for attempt := 0; attempt < km.settings.NumAttempts; attempt++ {
		q.Add(fmt.Sprintf("init[%d]", attempt), func(context.Context) error {
			km.initialize(attempt)
			return nil
		})
		q.AddN(fmt.Sprintf("iterate[%d]", attempt), km.settings.NumIterations, func(int) func(context.Context) error {
			return func(ctx context.Context) error {
				if err := km.assign(ctx); err != nil {
					return err
				}
				km.update()
				return nil
			}
		})
		q.Add(fmt.Sprintf("post-attempt[%d]", attempt), func(ctx context.Context) error {
			return km.postAttempt(ctx, attempt)
		})
	}
	q.Add("post-training", km.postTraining)

	return q, nil
}

// Train runs the full training pipeline synchronously.
func (km *KMeans) Train(ctx context.Context, features []float32, numSamples int) error {
	q, err := km.PrepareTrainingJobQueue(features, numSamples, 1)
	if err != nil {
		return err
	}
	return q.ForceComplete(ctx)
}

// Centroids returns the flat centroid table (k*dim).
func (km *KMeans) Centroids() []float32 { return km.centroids }

// Trained reports whether a training session completed.
func (km *KMeans) Trained() bool { return km.trained }

// Distortion returns the total squared distance of the samples to the
// selected centroids.
func (km *KMeans) Distortion() float32 {
	if km.settings.NumAttempts > 1 {
		return km.errors[1]
	}
	return km.errors[0]
}

// AttemptDistortions returns the final distortion of every completed attempt.
func (km *KMeans) AttemptDistortions() []float32 { return km.attemptErrors }

// Histogram returns the cluster populations of the last assignment.
func (km *KMeans) Histogram() []int { return km.histogram }

// ImbalanceFactor returns the imbalance of the last assignment.
func (km *KMeans) ImbalanceFactor() float32 { return ImbalanceFactor(km.histogram) }

// Assign returns the closest centroid to vec.
func (km *KMeans) Assign(vec []float32) Distance {
	return nearest(vec, km.centroids, km.dim, km.k)
}

// Release drops the per-session buffers. The centroid table is kept.
func (km *KMeans) Release() {
	km.features = nil
	km.distances = nil
	km.minDist = nil
	km.bestCentroids = nil
}

// initialize seeds the centroids with k-means++ using the attempt's generator.
func (km *KMeans) initialize(attempt int) {
	gen := rng.ForAttempt(km.settings.Seed, attempt)
	dim, n := km.dim, km.n

	first := gen.IntN(n)
	copy(km.centroids[:dim], km.sample(first))

	var sum float64
	for i := range n {
		d := float64(distance.SquaredL2(km.sample(i), km.centroids[:dim]))
		km.minDist[i] = d
		sum += d
	}

	for c := 1; c < km.k; c++ {
		chosen := -1
		if sum > 0 {
			target := gen.Float64() * sum
			var cumsum float64
			last := -1
			for i, d := range km.minDist {
				if d <= 0 {
					continue
				}
				last = i
				cumsum += d
				if cumsum > target {
					chosen = i
					break
				}
			}
			if chosen < 0 {
				chosen = last
			}
		}
		if chosen < 0 {
			// Every sample already coincides with a centroid; the duplicate
			// stays empty and keeps its position.
			chosen = gen.IntN(n)
		}

		dst := km.centroids[c*dim : (c+1)*dim]
		copy(dst, km.sample(chosen))

		sum = 0
		for i := range n {
			d := float64(distance.SquaredL2(km.sample(i), dst))
			if d < km.minDist[i] {
				km.minDist[i] = d
			}
			sum += km.minDist[i]
		}
	}

	km.opts.Logger.Debug("kmeans attempt initialized", "attempt", attempt, "k", km.k, "samples", n)
}

// assign computes the nearest centroid of every sample, the histogram and
// the distortion (errors[0]).
func (km *KMeans) assign(ctx context.Context) error {
	n := km.n
	workers := min(km.opts.Workers, max(1, n/minSamplesPerWorker))
	chunk := (n + workers - 1) / workers

	g, _ := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				km.distances[i] = nearest(km.sample(i), km.centroids, km.dim, km.k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	clear(km.histogram)
	var total float64
	for _, d := range km.distances {
		km.histogram[d.Index]++
		total += float64(d.L2)
	}
	km.errors[0] = float32(total)
	return ctx.Err()
}

// update recomputes every centroid as the mean of its members.
// Empty clusters keep their previous centroid.
func (km *KMeans) update() {
	dim := km.dim
	clear(km.sums)
	for i, d := range km.distances {
		vek32.Add_Inplace(km.sums[d.Index*dim:(d.Index+1)*dim], km.sample(i))
	}
	for c, count := range km.histogram {
		if count == 0 {
			continue
		}
		dst := km.centroids[c*dim : (c+1)*dim]
		copy(dst, km.sums[c*dim:(c+1)*dim])
		vek32.MulNumber_Inplace(dst, 1/float32(count))
	}
}

func (km *KMeans) postAttempt(ctx context.Context, attempt int) error {
	if err := km.assign(ctx); err != nil {
		return err
	}
	km.attemptErrors = append(km.attemptErrors, km.errors[0])

	if km.settings.NumAttempts > 1 && (attempt == 0 || km.errors[0] < km.errors[1]) {
		km.errors[1] = km.errors[0]
		copy(km.bestCentroids, km.centroids)
	}

	km.opts.Logger.Debug("kmeans attempt finished",
		"attempt", attempt,
		"distortion", km.errors[0],
		"imbalance", ImbalanceFactor(km.histogram),
	)
	return nil
}

func (km *KMeans) postTraining(ctx context.Context) error {
	if km.settings.NumAttempts > 1 {
		copy(km.centroids, km.bestCentroids)
		// Refresh assignment state so histogram and errors[0] describe
		// the selected centroids.
		if err := km.assign(ctx); err != nil {
			return err
		}
	}
	km.trained = true
	km.opts.Logger.Debug("kmeans training finished",
		"k", km.k,
		"dim", km.dim,
		"attempts", km.settings.NumAttempts,
		"distortion", km.Distortion(),
	)
	return nil
}

func (km *KMeans) sample(i int) []float32 {
	return km.features[i*km.dim : (i+1)*km.dim]
}

// nearest performs a linear scan; ties resolve to the lowest index.
func nearest(vec, centroids []float32, dim, k int) Distance {
	best := Distance{Index: 0, L2: float32(math.Inf(1))}
	for j := 0; j < k; j++ {
		d := distance.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
		if d < best.L2 {
			best = Distance{Index: j, L2: d}
		}
	}
	return best
}

// ImbalanceFactor returns k * Σ h_i² / (Σ h_i)² for a cluster population
// histogram. A perfectly balanced clustering yields 1; larger values mean
// more degenerate clusterings. An empty histogram yields 0.
func ImbalanceFactor(histogram []int) float32 {
	var sum, sumSq float64
	for _, h := range histogram {
		sum += float64(h)
		sumSq += float64(h) * float64(h)
	}
	if sum == 0 {
		return 0
	}
	return float32(float64(len(histogram)) * sumSq / (sum * sum))
}
