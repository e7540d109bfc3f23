package transition

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/geom"
	"golang.org/x/sync/errgroup"
)

type candidate struct {
	frame int
	index int
	world geom.Transform
}

type match struct {
	found  bool
	source candidate
	target candidate
	cost   float32
}

type intervalResult struct {
	match
	skipped  bool
	targets  int
	tested   int
	accepted int
}

// FindTransition searches the candidate pose set and moves the task to
// Waiting, or to Failed when no pair satisfies both tolerances. A failed
// search is not an error; Err reports ErrNoTransition. Errors are returned
// only for cancellation or cost lookup failures, which also fail the task.
func (t *Task) FindTransition(ctx context.Context) error {
	if t.disposed {
		return ErrDisposed
	}
	if t.state != StateInitializing {
		return nil
	}

	start := time.Now()
	best, err := t.search(ctx)
	t.diag.Duration = time.Since(start)
	if err != nil {
		t.fail(err)
		return err
	}
	if !best.found {
		t.fail(ErrNoTransition)
		return nil
	}

	t.accept(best)
	return nil
}

func (t *Task) fail(err error) {
	t.state = StateFailed
	t.err = err
	t.opts.Logger.Warn("transition failed",
		"task", t.id,
		"current", t.req.Current.String(),
		"intervals", t.diag.Intervals,
		"pairs_tested", t.diag.PairsTested,
		"error", err,
	)
}

func (t *Task) search(ctx context.Context) (match, error) {
	s := t.req.Settings
	t.diag.Intervals = len(t.req.Intervals)
	if s.MaximumLinearError <= 0 || s.MaximumAngularError <= 0 {
		return match{}, nil
	}

	sources := t.sourceCandidates()
	t.diag.SourceCandidates = len(sources)

	results := make([]intervalResult, len(t.req.Intervals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Workers)
	for i, iv := range t.req.Intervals {
		g.Go(func() error {
			r, err := t.evaluateInterval(gctx, iv, sources)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return match{}, err
	}

	var best match
	for _, r := range results {
		if r.skipped {
			t.diag.SkippedIntervals++
		}
		t.diag.TargetCandidates += r.targets
		t.diag.PairsTested += r.tested
		t.diag.PairsAccepted += r.accepted
		if r.found && (!best.found || r.cost < best.cost) {
			best = r.match
		}
	}
	return best, nil
}

// sourceCandidates steps forward from the current frame across the time
// horizon, extrapolating the current clip into world space.
func (t *Task) sourceCandidates() []candidate {
	cur := t.req.Current
	seg := t.db.Segment(cur.Segment)
	horizon := int(math.Floor(t.req.Settings.TimeHorizon.Seconds()*t.rate + frameEpsilon))
	last := min(cur.Frame+horizon, seg.LastFrame())

	t.current = t.req.Root.Mul(t.rootAt(cur.Segment, cur.Frame).Inverse())
	out := make([]candidate, 0, last-cur.Frame+1)
	for f := cur.Frame; f <= last; f++ {
		idx := seg.FirstFragment + f
		out = append(out, candidate{frame: f, index: idx, world: t.current.Mul(t.db.RootTransform(idx))})
	}
	return out
}

// anchorFor maps target-clip space to world so that the contact frame
// coincides with the contact transform.
func (t *Task) anchorFor(segment, contact int) geom.Transform {
	return t.req.Contact.Mul(t.rootAt(segment, contact).Inverse())
}

func (t *Task) evaluateInterval(ctx context.Context, iv fragment.Interval, sources []candidate) (intervalResult, error) {
	var r intervalResult
	seg := t.db.Segment(iv.Segment)
	contact, ok := seg.ContactFrame()
	if !ok || contact < iv.FirstFrame {
		r.skipped = true
		return r, nil
	}

	s := t.req.Settings
	anchor := t.anchorFor(iv.Segment, contact)
	last := min(contact, iv.LastFrame())
	for f := iv.FirstFrame; f <= last; f++ {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		idx := seg.FirstFragment + f
		target := candidate{frame: f, index: idx, world: anchor.Mul(t.db.RootTransform(idx))}
		r.targets++

		for _, src := range sources {
			r.tested++
			if geom.LinearError(src.world, target.world) > s.MaximumLinearError ||
				geom.AngularError(src.world, target.world) > s.MaximumAngularError {
				continue
			}
			cost, err := t.coster.PairCost(src.index, target.index)
			if err != nil {
				return r, fmt.Errorf("transition: pose cost %d->%d: %w", src.index, target.index, err)
			}
			if math.IsInf(float64(cost), 1) || math.IsNaN(float64(cost)) {
				continue
			}
			r.accepted++
			r.match = match{found: true, source: src, target: target, cost: cost}
			return r, nil
		}
	}
	return r, nil
}

func (t *Task) accept(m match) {
	cur := t.req.Current
	tf := m.target.frame
	segIdx := t.db.SamplingTime(m.target.index).Segment
	seg := t.db.Segment(segIdx)
	contact, _ := seg.ContactFrame()

	t.source = fragment.SamplingTime{Segment: cur.Segment, Frame: m.source.frame}
	t.target = fragment.SamplingTime{Segment: segIdx, Frame: tf}
	t.contact = contact
	t.escape = max(seg.EscapeFrame(), contact)
	t.cost = m.cost
	t.diag.Cost = m.cost

	t.anchor = t.anchorFor(segIdx, contact)
	t.delta = m.target.world.Mul(m.source.world.Inverse())
	t.deltaInv = t.delta.Inverse()

	toSource := float64(m.source.frame - cur.Frame)
	t.blendFrames = toSource + float64(contact-tf)
	t.totalFrames = toSource + float64(t.escape-tf)
	t.state = StateWaiting

	t.opts.Logger.Info("transition found",
		"task", t.id,
		"source", t.source.String(),
		"target", t.target.String(),
		"cost", m.cost,
		"total", t.TotalTime(),
		"pairs_tested", t.diag.PairsTested,
	)
}
