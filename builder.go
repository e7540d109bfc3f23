package kinematch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/kinematch/asset"
	"github.com/hupe1980/kinematch/blobstore"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/quantization"
	"github.com/hupe1980/kinematch/resource"
)

// Tagger is implemented by databases that can filter fragments by tag.
type Tagger interface {
	Tagged(tags ...string) *roaring.Bitmap
}

// AssetBuilder bakes a fragment database into an asset: it trains the
// product quantizer on the valid fragments, then encodes every fragment.
//
// Training is cooperative. Call FrameUpdate once per frame (or RunPaced)
// until Done, then Build. An AssetBuilder is not safe for concurrent use.
//
//	b, _ := kinematch.NewAssetBuilder(db, kinematch.DefaultConfig())
//	defer b.Close()
//	if err := b.Start(ctx); err != nil { ... }
//	for !b.Done() {
//	    b.FrameUpdate(ctx)
//	}
//	a, err := b.Build(ctx, "locomotion")
type AssetBuilder struct {
	db   fragment.Database
	cfg  Config
	opts options
	rc   *resource.Controller

	pq      *quantization.ProductQuantizer
	session *quantization.TrainingSession
	valid   *roaring.Bitmap
	norm    *fragment.Normalizer
	src     quantization.FeatureSource

	reserved       int64
	started        time.Time
	trainingLogged bool
	closed         bool
}

// NewAssetBuilder creates a builder for db. Options override the
// corresponding cfg fields.
func NewAssetBuilder(db fragment.Database, cfg Config, optFns ...Option) (*AssetBuilder, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database is required", ErrInvalidConfig)
	}
	opts := applyOptions(optFns)
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.batchSize > 0 {
		cfg.BatchSize = opts.batchSize
	}
	if opts.compressionSet {
		cfg.Compression = opts.compression
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FeatureDimension > 0 && cfg.FeatureDimension != db.NumFeatures() {
		return nil, &ErrDimensionMismatch{Expected: cfg.FeatureDimension, Actual: db.NumFeatures()}
	}

	rc := opts.controller
	if rc == nil && cfg.TickRate > 0 {
		rc = resource.NewController(resource.Config{
			MaxBackgroundWorkers: int64(max(cfg.Workers, 1)),
			TickRate:             cfg.TickRate,
		})
	}

	return &AssetBuilder{
		db:   db,
		cfg:  cfg,
		opts: opts,
		rc:   rc,
	}, nil
}

// Config returns the effective configuration.
func (b *AssetBuilder) Config() Config { return b.cfg }

// Valid returns the fragments used for training and matching. It is nil
// before Start and must not be modified.
func (b *AssetBuilder) Valid() *roaring.Bitmap { return b.valid }

// Normalizer returns the feature normalization, nil before Start or when
// normalization is disabled.
func (b *AssetBuilder) Normalizer() *fragment.Normalizer { return b.norm }

// Session returns the training session, nil before Start.
func (b *AssetBuilder) Session() *quantization.TrainingSession { return b.session }

// Start selects the valid fragments, derives the normalization and
// schedules codebook training.
func (b *AssetBuilder) Start(ctx context.Context) error {
	if b.closed {
		return ErrClosed
	}
	if b.session != nil {
		return ErrAlreadyStarted
	}

	valid := b.selectFragments()
	if valid.IsEmpty() {
		return ErrNoValidFragments
	}
	rows := make([]int, 0, valid.GetCardinality())
	it := valid.Iterator()
	for it.HasNext() {
		rows = append(rows, int(it.Next()))
	}

	pq, err := quantization.NewProductQuantizer(b.db.NumFeatures(), b.cfg.SubQuantizers, b.cfg.NumBits, func(o *quantization.Options) {
		o.Workers = b.cfg.Workers
		o.BatchSize = b.cfg.BatchSize
		o.FrameBudget = b.cfg.FrameBudget
		o.Logger = b.opts.logger.Logger
		if b.rc != nil {
			o.Limiter = b.rc
		}
	})
	if err != nil {
		return translateError(err)
	}

	reserve := b.memoryEstimate(pq, len(rows))
	if !b.rc.TryAcquireMemory(reserve) {
		b.opts.logger.DebugContext(ctx, "waiting for memory reservation",
			"bytes", reserve,
			"in_use", b.rc.MemoryUsage(),
		)
		if err := b.rc.AcquireMemory(ctx, reserve); err != nil {
			return translateError(err)
		}
	}
	b.reserved = reserve

	var src quantization.FeatureSource = b.db
	if b.cfg.Normalize {
		norm, err := fragment.ComputeNormalization(subset{src: b.db, rows: rows})
		if err != nil {
			b.releaseMemory()
			return err
		}
		b.norm = norm
		src = norm.Matrix(b.db)
	}

	b.started = time.Now()
	session, err := pq.ScheduleTraining(subset{src: src, rows: rows}, b.cfg.Training)
	if err != nil {
		b.releaseMemory()
		return translateError(err)
	}

	b.pq = pq
	b.session = session
	b.valid = valid
	b.src = src

	b.opts.logger.InfoContext(ctx, "asset build started",
		"fragments", b.db.NumFragments(),
		"valid", len(rows),
		"samples", session.NumSamples(),
		"normalize", b.cfg.Normalize,
	)
	return nil
}

// selectFragments returns the tagged fragments whose features are finite.
func (b *AssetBuilder) selectFragments() *roaring.Bitmap {
	var candidates *roaring.Bitmap
	if t, ok := b.db.(Tagger); ok && len(b.cfg.Tags) > 0 {
		candidates = t.Tagged(b.cfg.Tags...)
	} else {
		candidates = fragment.AllFragments(b.db)
	}

	valid := roaring.New()
	it := candidates.Iterator()
	for it.HasNext() {
		i := it.Next()
		if finite(b.db.FragmentFeatures(int(i))) {
			valid.Add(i)
		}
	}
	return valid
}

// memoryEstimate covers the normalized matrix, the training subsample and
// the codes.
func (b *AssetBuilder) memoryEstimate(pq *quantization.ProductQuantizer, validRows int) int64 {
	n := int64(b.db.NumFragments())
	dim := int64(pq.Dimension())
	ksub := int64(pq.NumCentroids())

	samples := int64(validRows)
	samples = max(samples, int64(b.cfg.Training.MinimumNumberSamples)*ksub)
	samples = min(samples, int64(b.cfg.Training.MaximumNumberSamples)*ksub)

	bytes := samples*dim*4 + n*int64(pq.CodeSize())
	if b.cfg.Normalize {
		bytes += n * dim * 4
	}
	return bytes
}

// FrameUpdate advances training by one batch and returns the progress.
func (b *AssetBuilder) FrameUpdate(ctx context.Context) (float32, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	p, err := b.session.FrameUpdate(ctx)
	if err != nil {
		b.recordTraining(ctx, err)
		return p, err
	}
	if b.session.Done() {
		b.recordTraining(ctx, nil)
	}
	return p, nil
}

// RunPaced drives FrameUpdate until training finishes, waiting for a tick
// of the resource controller before each call. onProgress may be nil.
func (b *AssetBuilder) RunPaced(ctx context.Context, onProgress func(p float32)) error {
	if err := b.check(); err != nil {
		return err
	}
	for !b.session.Done() {
		if err := b.rc.WaitTick(ctx); err != nil {
			return err
		}
		p, err := b.FrameUpdate(ctx)
		if err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
	return nil
}

// Progress returns the training completion fraction.
func (b *AssetBuilder) Progress() float32 {
	if b.session == nil {
		return 0
	}
	return b.session.Progress()
}

// Done reports whether the codebook has been trained.
func (b *AssetBuilder) Done() bool {
	return b.session != nil && b.session.Done()
}

// Build finishes training if necessary, encodes every fragment and returns
// the asset. The builder is closed afterwards.
func (b *AssetBuilder) Build(ctx context.Context, name string) (*asset.Asset, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	defer b.Close()

	if !b.session.Done() {
		if err := b.session.ForceComplete(ctx); err != nil {
			b.recordTraining(ctx, err)
			return nil, err
		}
		b.recordTraining(ctx, nil)
	}

	n := b.db.NumFragments()
	codes := make([]byte, n*b.pq.CodeSize())
	start := time.Now()
	err := b.pq.ComputeCodes(ctx, b.src, codes)
	b.opts.metricsCollector.RecordEncode(n, time.Since(start), err)
	b.opts.logger.LogEncode(ctx, n, int(b.valid.GetCardinality()), err)
	if err != nil {
		return nil, translateError(err)
	}

	a, err := asset.New(name, b.pq, codes)
	if err != nil {
		return nil, err
	}
	if b.valid.GetCardinality() < uint64(n) {
		a.Valid = b.valid
	}
	a.Normalizer = b.norm
	return a, nil
}

// Bake runs training to completion, builds the asset and saves it to store
// with the configured compression.
func (b *AssetBuilder) Bake(ctx context.Context, store blobstore.BlobStore, name string) (*asset.Asset, error) {
	if b.session == nil {
		if err := b.Start(ctx); err != nil {
			return nil, err
		}
	}
	if b.rc.Config().TickRate > 0 {
		if err := b.RunPaced(ctx, nil); err != nil {
			return nil, err
		}
	}
	a, err := b.Build(ctx, name)
	if err != nil {
		return nil, err
	}
	err = asset.Save(ctx, store, name, a, b.cfg.Compression, b.opts.logger.Logger)
	b.opts.logger.LogAsset(ctx, "saved", name, err)
	if err != nil {
		return nil, translateError(err)
	}
	return a, nil
}

// Close abandons an unfinished training session and releases reserved
// memory. It is safe to call Close more than once.
func (b *AssetBuilder) Close() {
	if b.closed {
		return
	}
	b.closed = true
	if b.session != nil {
		b.session.Close()
	}
	b.src = nil
	b.releaseMemory()
}

func (b *AssetBuilder) check() error {
	if b.closed {
		return ErrClosed
	}
	if b.session == nil {
		return ErrNotStarted
	}
	return nil
}

func (b *AssetBuilder) releaseMemory() {
	if b.reserved > 0 {
		b.rc.ReleaseMemory(b.reserved)
		b.reserved = 0
	}
}

func (b *AssetBuilder) recordTraining(ctx context.Context, err error) {
	if b.trainingLogged {
		return
	}
	b.trainingLogged = true
	elapsed := time.Since(b.started)
	b.opts.metricsCollector.RecordTraining(b.session.NumSamples(), elapsed, err)
	b.opts.logger.LogTraining(ctx, b.session.NumSamples(), b.session.TotalDistortion(), elapsed, err)
}

// subset exposes selected rows of a feature source.
type subset struct {
	src  quantization.FeatureSource
	rows []int
}

func (s subset) NumFragments() int { return len(s.rows) }

func (s subset) FragmentFeatures(i int) []float32 { return s.src.FragmentFeatures(s.rows[i]) }

func finite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}
