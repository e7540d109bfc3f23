package quantization

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/kinematch/internal/jobqueue"
	"github.com/hupe1980/kinematch/internal/kmeans"
	"github.com/hupe1980/kinematch/internal/rng"
)

// TrainingSession owns everything a codebook training run needs: the
// subsample permutation, one contiguous slice buffer, one k-means trainer
// and one job queue per sub-quantizer. All of it is released together by
// Close or when training finalizes.
type TrainingSession struct {
	pq          *ProductQuantizer
	settings    TrainingSettings
	permutation []int
	buffers     [][]float32
	trainers    []*kmeans.KMeans
	composite   *jobqueue.Composite

	distortions []float32
	imbalance   []float32
	repeated    bool
	finalized   bool
	closed      bool
	started     time.Time
}

var _ jobqueue.Updater = (*TrainingSession)(nil)

// ScheduleTraining prepares a training session over src. No clustering
// happens until the session is advanced.
//
// If the number of fragments lies within
// [MinimumNumberSamples*ksub, MaximumNumberSamples*ksub] every fragment is
// used in its original order. Otherwise a shuffled subsample of the
// clamped size is drawn; with too few fragments, indices repeat.
func (pq *ProductQuantizer) ScheduleTraining(src FeatureSource, settings TrainingSettings) (*TrainingSession, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	n := src.NumFragments()
	if n == 0 {
		return nil, ErrNoTrainingData
	}
	if !pq.training.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}

	s := &TrainingSession{
		pq:       pq,
		settings: settings,
		started:  time.Now(),
	}
	if err := s.prepare(src); err != nil {
		pq.training.Store(false)
		return nil, err
	}

	pq.opts.Logger.Info("codebook training scheduled",
		"dimension", pq.dimension,
		"subquantizers", pq.numSubvectors,
		"centroids", pq.numCentroids,
		"fragments", n,
		"samples", len(s.permutation),
		"repeated", s.repeated,
	)
	if s.repeated {
		pq.opts.Logger.Warn("too few fragments for training; samples repeat",
			"fragments", n,
			"minimum", settings.MinimumNumberSamples*pq.numCentroids,
		)
	}
	return s, nil
}

func (s *TrainingSession) prepare(src FeatureSource) error {
	pq := s.pq
	perm, repeated := subsample(src.NumFragments(), pq.numCentroids, s.settings)
	s.permutation = perm
	s.repeated = repeated

	numSamples := len(perm)
	dsub := pq.subvectorDim

	s.buffers = make([][]float32, pq.numSubvectors)
	for m := range s.buffers {
		s.buffers[m] = make([]float32, numSamples*dsub)
	}
	for i, idx := range perm {
		features := src.FragmentFeatures(idx)
		if len(features) != pq.dimension {
			return fmt.Errorf("fragment %d: %w", idx, &ErrDimensionMismatch{Expected: pq.dimension, Actual: len(features)})
		}
		for m, buf := range s.buffers {
			copy(buf[i*dsub:(i+1)*dsub], features[m*dsub:(m+1)*dsub])
		}
	}

	queues := make([]jobqueue.Updater, pq.numSubvectors)
	s.trainers = make([]*kmeans.KMeans, pq.numSubvectors)
	for m := range s.trainers {
		km, err := kmeans.New(dsub, pq.numCentroids, s.settings.kmeans(m), func(o *kmeans.Options) {
			// Sub-quantizers already run in parallel.
			o.Workers = 1
			o.Logger = pq.opts.Logger.With("subquantizer", m)
		})
		if err != nil {
			return err
		}
		q, err := km.PrepareTrainingJobQueue(s.buffers[m], numSamples, pq.opts.BatchSize, func(o *jobqueue.Options) {
			o.Budget = pq.opts.FrameBudget
		})
		if err != nil {
			return err
		}
		s.trainers[m] = km
		queues[m] = &limitedQueue{Queue: q, limiter: pq.opts.Limiter}
	}
	s.composite = jobqueue.NewComposite(pq.opts.Workers, queues...)
	return nil
}

// subsample returns the training permutation and whether indices repeat.
func subsample(n, ksub int, settings TrainingSettings) ([]int, bool) {
	lo := settings.MinimumNumberSamples * ksub
	hi := settings.MaximumNumberSamples * ksub

	if n >= lo && n <= hi {
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		return perm, false
	}

	gen := rng.New(settings.Seed, rng.StreamSubsample)
	if n > hi {
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		gen.ShuffleInts(perm, hi)
		return perm[:hi:hi], false
	}

	perm := make([]int, lo)
	for i := range perm {
		perm[i] = i % n
	}
	gen.ShuffleInts(perm, 0)
	return perm, true
}

// NumSamples returns the size of the training subsample.
func (s *TrainingSession) NumSamples() int { return len(s.permutation) }

// Permutation returns the fragment indices used for training.
func (s *TrainingSession) Permutation() []int { return s.permutation }

// Repeated reports whether the subsample contains repeated fragments.
func (s *TrainingSession) Repeated() bool { return s.repeated }

// Progress returns the completion fraction; it reaches 1 only after the
// codebook has been assembled.
func (s *TrainingSession) Progress() float32 {
	if s.finalized {
		return 1
	}
	if s.closed {
		return 0
	}
	p := s.composite.Progress()
	if p >= 1 {
		p = 1 - 1e-6
	}
	return p
}

// Done reports whether the codebook has been assembled.
func (s *TrainingSession) Done() bool { return s.finalized }

// FrameUpdate advances every sub-quantizer by one batch. Once all of them
// finished, the centroids are copied into the codebook.
func (s *TrainingSession) FrameUpdate(ctx context.Context) (float32, error) {
	if err := s.check(); err != nil {
		return s.Progress(), err
	}
	if s.finalized {
		return 1, nil
	}
	if _, err := s.composite.FrameUpdate(ctx); err != nil {
		return s.Progress(), err
	}
	if s.composite.Done() {
		s.finalize()
	}
	return s.Progress(), nil
}

// ForceCompleteCurrentBatch finishes the batch in progress of every sub-quantizer.
func (s *TrainingSession) ForceCompleteCurrentBatch(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.finalized {
		return nil
	}
	if err := s.composite.ForceCompleteCurrentBatch(ctx); err != nil {
		return err
	}
	if s.composite.Done() {
		s.finalize()
	}
	return nil
}

// ForceComplete trains to completion.
func (s *TrainingSession) ForceComplete(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.finalized {
		return nil
	}
	if err := s.composite.ForceComplete(ctx); err != nil {
		return err
	}
	s.finalize()
	return nil
}

// Distortions returns the final distortion of each sub-quantizer.
// It is nil until training has finished.
func (s *TrainingSession) Distortions() []float32 { return s.distortions }

// ImbalanceFactors returns the cluster imbalance of each sub-quantizer.
// It is nil until training has finished.
func (s *TrainingSession) ImbalanceFactors() []float32 { return s.imbalance }

// TotalDistortion returns the sum of the sub-quantizer distortions.
func (s *TrainingSession) TotalDistortion() float32 {
	var sum float32
	for _, d := range s.distortions {
		sum += d
	}
	return sum
}

// Close abandons the session and releases its buffers. Closing a finished
// session is a no-op; the trained codebook stays installed.
func (s *TrainingSession) Close() {
	if s.closed || s.finalized {
		return
	}
	s.closed = true
	s.release()
	s.pq.training.Store(false)
}

func (s *TrainingSession) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// finalize copies each sub-trainer's centroids to offset m*ksub*dsub.
func (s *TrainingSession) finalize() {
	pq := s.pq
	s.distortions = make([]float32, len(s.trainers))
	s.imbalance = make([]float32, len(s.trainers))
	for m, km := range s.trainers {
		copy(pq.SubCentroids(m), km.Centroids())
		s.distortions[m] = km.Distortion()
		s.imbalance[m] = km.ImbalanceFactor()
	}
	pq.trained = true
	s.finalized = true
	s.release()
	pq.training.Store(false)

	pq.opts.Logger.Info("codebook training finished",
		"samples", len(s.permutation),
		"distortion", s.TotalDistortion(),
		"duration", time.Since(s.started),
	)
}

func (s *TrainingSession) release() {
	for _, km := range s.trainers {
		km.Release()
	}
	s.buffers = nil
}

// limitedQueue reserves a worker slot while a sub-quantizer batch runs.
type limitedQueue struct {
	*jobqueue.Queue
	limiter WorkerLimiter
}

func (q *limitedQueue) FrameUpdate(ctx context.Context) (float32, error) {
	if q.limiter == nil {
		return q.Queue.FrameUpdate(ctx)
	}
	if err := q.limiter.AcquireBackground(ctx); err != nil {
		return q.Progress(), err
	}
	defer q.limiter.ReleaseBackground()
	return q.Queue.FrameUpdate(ctx)
}
