package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidBatchSize is returned when a queue is created with a non-positive batch size.
	ErrInvalidBatchSize = errors.New("jobqueue: batch size must be positive")
	// ErrClosed is returned when a disposed queue is advanced.
	ErrClosed = errors.New("jobqueue: queue is closed")
)

// Updater is implemented by everything that can be stepped by a frame loop.
type Updater interface {
	// FrameUpdate advances the work by at most one batch and returns the
	// completion fraction in [0,1].
	FrameUpdate(ctx context.Context) (float32, error)
	// ForceCompleteCurrentBatch finishes the batch in progress, ignoring any budget.
	ForceCompleteCurrentBatch(ctx context.Context) error
	// ForceComplete runs all remaining work.
	ForceComplete(ctx context.Context) error
	// Progress returns the completion fraction in [0,1].
	Progress() float32
	// Done reports whether all work has completed.
	Done() bool
}

// Stage is a single step of a queue.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Options configures a Queue.
type Options struct {
	// BatchSize is the number of stages executed per FrameUpdate.
	BatchSize int
	// Budget bounds the wall-clock time a single FrameUpdate may spend.
	// The budget is checked between stages, so at least one stage always
	// runs. Zero disables the budget.
	Budget time.Duration
}

// Queue is a strictly ordered list of stages executed in batches.
// A Queue is not safe for concurrent use.
type Queue struct {
	opts     Options
	stages   []Stage
	cursor   int
	batchEnd int
	err      error
	closed   bool
	now      func() time.Time
}

var _ Updater = (*Queue)(nil)

// New creates an empty queue.
func New(batchSize int, optFns ...func(o *Options)) (*Queue, error) {
	opts := Options{BatchSize: batchSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	return &Queue{opts: opts, now: time.Now}, nil
}

// Add appends a stage to the queue.
func (q *Queue) Add(name string, fn func(ctx context.Context) error) {
	q.stages = append(q.stages, Stage{Name: name, Run: fn})
}

// AddN appends n stages produced by fn(i).
func (q *Queue) AddN(name string, n int, fn func(i int) func(ctx context.Context) error) {
	for i := 0; i < n; i++ {
		q.Add(fmt.Sprintf("%s[%d]", name, i), fn(i))
	}
}

// Len returns the total number of stages.
func (q *Queue) Len() int { return len(q.stages) }

// Completed returns the number of stages that have run.
func (q *Queue) Completed() int { return q.cursor }

// Progress returns the completion fraction in [0,1].
func (q *Queue) Progress() float32 {
	if len(q.stages) == 0 {
		return 1
	}
	return float32(q.cursor) / float32(len(q.stages))
}

// Done reports whether every stage has run.
func (q *Queue) Done() bool { return q.cursor >= len(q.stages) }

// Err returns the error that stopped the queue, if any.
func (q *Queue) Err() error { return q.err }

// FrameUpdate runs the stages of the current batch. A new batch is started
// when the previous one has completed. With a budget set, FrameUpdate may
// return before the batch boundary; the next call resumes where it left off.
func (q *Queue) FrameUpdate(ctx context.Context) (float32, error) {
	if err := q.check(); err != nil {
		return q.Progress(), err
	}
	if q.Done() {
		return 1, nil
	}
	if q.batchEnd <= q.cursor {
		q.batchEnd = min(q.cursor+q.opts.BatchSize, len(q.stages))
	}

	start := q.now()
	for q.cursor < q.batchEnd {
		if err := q.step(ctx); err != nil {
			return q.Progress(), err
		}
		if q.opts.Budget > 0 && q.cursor < q.batchEnd && q.now().Sub(start) >= q.opts.Budget {
			break
		}
	}
	return q.Progress(), nil
}

// ForceCompleteCurrentBatch runs the remaining stages of the batch in
// progress. It is a no-op when no batch is in progress.
func (q *Queue) ForceCompleteCurrentBatch(ctx context.Context) error {
	if err := q.check(); err != nil {
		return err
	}
	for q.cursor < q.batchEnd {
		if err := q.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ForceComplete runs every remaining stage.
func (q *Queue) ForceComplete(ctx context.Context) error {
	if err := q.check(); err != nil {
		return err
	}
	q.batchEnd = len(q.stages)
	for !q.Done() {
		if err := q.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the stages. Further updates return ErrClosed.
func (q *Queue) Close() {
	q.closed = true
	q.stages = nil
	q.cursor, q.batchEnd = 0, 0
}

func (q *Queue) check() error {
	if q.closed {
		return ErrClosed
	}
	return q.err
}

func (q *Queue) step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := q.stages[q.cursor]
	if err := s.Run(ctx); err != nil {
		q.err = fmt.Errorf("jobqueue: stage %q: %w", s.Name, err)
		return q.err
	}
	q.cursor++
	return nil
}
