package jobqueue

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Composite advances several independent queues together.
// Constituents are stepped in parallel; each constituent is only ever
// touched by one goroutine at a time.
type Composite struct {
	queues  []Updater
	workers int
}

var _ Updater = (*Composite)(nil)

// NewComposite creates a composite over the given queues.
// workers <= 0 uses GOMAXPROCS.
func NewComposite(workers int, queues ...Updater) *Composite {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Composite{queues: queues, workers: workers}
}

// Len returns the number of constituent queues.
func (c *Composite) Len() int { return len(c.queues) }

// Progress returns the mean progress of all constituents.
func (c *Composite) Progress() float32 {
	if len(c.queues) == 0 {
		return 1
	}
	var sum float32
	for _, q := range c.queues {
		sum += q.Progress()
	}
	if c.Done() {
		return 1
	}
	p := sum / float32(len(c.queues))
	// Rounding must never report completion early.
	if p >= 1 {
		p = 1 - 1e-6
	}
	return p
}

// Done reports whether every constituent has completed.
func (c *Composite) Done() bool {
	for _, q := range c.queues {
		if !q.Done() {
			return false
		}
	}
	return true
}

// FrameUpdate advances every unfinished constituent by one batch.
func (c *Composite) FrameUpdate(ctx context.Context) (float32, error) {
	err := c.each(ctx, func(ctx context.Context, q Updater) error {
		_, err := q.FrameUpdate(ctx)
		return err
	})
	return c.Progress(), err
}

// ForceCompleteCurrentBatch finishes the batch in progress of every constituent.
func (c *Composite) ForceCompleteCurrentBatch(ctx context.Context) error {
	return c.each(ctx, func(ctx context.Context, q Updater) error {
		return q.ForceCompleteCurrentBatch(ctx)
	})
}

// ForceComplete runs every constituent to completion.
func (c *Composite) ForceComplete(ctx context.Context) error {
	return c.each(ctx, func(ctx context.Context, q Updater) error {
		return q.ForceComplete(ctx)
	})
}

func (c *Composite) each(ctx context.Context, fn func(context.Context, Updater) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, q := range c.queues {
		if q.Done() {
			continue
		}
		g.Go(func() error {
			return fn(gctx, q)
		})
	}
	return g.Wait()
}
