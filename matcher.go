package kinematch

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/kinematch/asset"
	"github.com/hupe1980/kinematch/blobstore"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/geom"
	"github.com/hupe1980/kinematch/quantization"
	"github.com/hupe1980/kinematch/search"
	"github.com/hupe1980/kinematch/transition"
)

// IntervalLister is implemented by databases that can list whole-segment
// intervals by tag.
type IntervalLister interface {
	Intervals(tags ...string) []fragment.Interval
}

// Matcher answers pose searches and transition requests against a baked
// asset. It is safe for concurrent use; the transition tasks it returns
// are not.
type Matcher struct {
	db       fragment.Database
	asset    *asset.Asset
	engine   *search.Engine
	settings transition.Settings
	opts     options
}

// NewMatcher creates a matcher over db using the codes of a. The asset must
// have been baked from db.
func NewMatcher(db fragment.Database, a *asset.Asset, optFns ...Option) (*Matcher, error) {
	if db == nil || a == nil {
		return nil, fmt.Errorf("%w: database and asset are required", ErrInvalidConfig)
	}
	if err := a.Validate(); err != nil {
		return nil, translateError(err)
	}
	if a.NumFragments() != db.NumFragments() {
		return nil, &ErrDimensionMismatch{Expected: db.NumFragments(), Actual: a.NumFragments()}
	}

	opts := applyOptions(optFns)
	engine, err := search.New(db, a.Quantizer, a.Codes, func(o *search.Options) {
		o.Normalizer = a.Normalizer
		o.Valid = a.Valid
		o.Logger = opts.logger.Logger
		if opts.tableCacheSize > 0 {
			o.TableCacheSize = opts.tableCacheSize
		}
	})
	if err != nil {
		return nil, translateError(err)
	}

	settings := transition.DefaultSettings()
	if opts.transition != nil {
		settings = *opts.transition
	}

	return &Matcher{
		db:       db,
		asset:    a,
		engine:   engine,
		settings: settings,
		opts:     opts,
	}, nil
}

// Open loads the asset stored under name and creates a matcher over db.
func Open(ctx context.Context, store blobstore.BlobStore, name string, db fragment.Database, optFns ...Option) (*Matcher, error) {
	opts := applyOptions(optFns)
	a, err := asset.Load(ctx, store, name, func(o *quantization.Options) {
		o.Workers = opts.workers
		o.Logger = opts.logger.Logger
	})
	opts.logger.LogAsset(ctx, "loaded", name, err)
	if err != nil {
		return nil, translateError(err)
	}
	return NewMatcher(db, a, optFns...)
}

// Asset returns the baked asset.
func (m *Matcher) Asset() *asset.Asset { return m.asset }

// Engine returns the underlying search engine.
func (m *Matcher) Engine() *search.Engine { return m.engine }

// Database returns the fragment database.
func (m *Matcher) Database() fragment.Database { return m.db }

// Search returns the lowest-cost fragment for q.
func (m *Matcher) Search(ctx context.Context, q search.Query) (search.Result, error) {
	if err := ctx.Err(); err != nil {
		return search.Result{}, err
	}
	start := time.Now()
	res, err := m.engine.Search(q)
	err = translateError(err)
	m.opts.metricsCollector.RecordSearch(res.Evaluated, res.Accepted, time.Since(start), err)
	m.opts.logger.LogSearch(ctx, res.Evaluated, res.Accepted, err)
	return res, err
}

// TopK returns the k lowest-cost fragments for q, best first.
func (m *Matcher) TopK(ctx context.Context, q search.Query, k int) ([]search.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := m.engine.TopK(q, k)
	err = translateError(err)
	m.opts.metricsCollector.RecordSearch(len(out), len(out) > 0, time.Since(start), err)
	m.opts.logger.LogSearch(ctx, len(out), len(out) > 0, err)
	return out, err
}

// Transition creates a transition task for req. The task's pose costs are
// looked up in the asset.
func (m *Matcher) Transition(req transition.Request) (*transition.Task, error) {
	task, err := transition.New(m.db, m.engine, req, func(o *transition.Options) {
		o.Workers = m.opts.workers
		o.Logger = m.opts.logger.Logger
	})
	if err != nil {
		return nil, translateError(err)
	}
	return task, nil
}

// FindTransition creates a task for req and runs its search. A task that
// found no acceptable pair is returned in the Failed state without error.
func (m *Matcher) FindTransition(ctx context.Context, req transition.Request) (*transition.Task, error) {
	task, err := m.Transition(req)
	if err != nil {
		return nil, err
	}

	err = task.FindTransition(ctx)
	diag := task.Diagnostics()
	succeeded := task.State() != transition.StateFailed
	m.opts.metricsCollector.RecordTransition(succeeded, diag.PairsTested, diag.Duration)
	m.opts.logger.LogTransition(ctx, task.ID(), diag.PairsTested, translateError(task.Err()))
	if err != nil {
		return task, translateError(err)
	}
	return task, nil
}

// TransitionTo searches a transition from current into the segments
// carrying any of tags, anchoring their contact marker at contact. The
// database must implement IntervalLister.
func (m *Matcher) TransitionTo(ctx context.Context, current fragment.SamplingTime, root, contact geom.Transform, tags ...string) (*transition.Task, error) {
	lister, ok := m.db.(IntervalLister)
	if !ok {
		return nil, fmt.Errorf("%w: database cannot list intervals", ErrInvalidConfig)
	}
	return m.FindTransition(ctx, transition.Request{
		Current:   current,
		Root:      root,
		Contact:   contact,
		Intervals: lister.Intervals(tags...),
		Settings:  m.settings,
	})
}

// Candidates returns the valid fragments of segments carrying any of tags,
// or nil for every valid fragment when tags is empty. The database must
// implement Tagger for tag filtering.
func (m *Matcher) Candidates(tags ...string) (*roaring.Bitmap, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	t, ok := m.db.(Tagger)
	if !ok {
		return nil, fmt.Errorf("%w: database cannot filter by tag", ErrInvalidConfig)
	}
	return roaring.And(t.Tagged(tags...), m.engine.Valid()), nil
}
