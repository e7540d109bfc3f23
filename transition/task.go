package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/geom"
)

var (
	// ErrNoTransition is reported by a failed task.
	ErrNoTransition = errors.New("transition: no acceptable transition")
	// ErrDisposed is returned when a disposed task is used.
	ErrDisposed = errors.New("transition: task disposed")
	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("transition: invalid request")
)

// frameEpsilon absorbs rounding when converting elapsed time to frames.
const frameEpsilon = 1e-3

// State is the lifecycle state of a Task.
type State int

const (
	StateInitializing State = iota
	StateWaiting
	StateActive
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Done reports whether the state is terminal.
func (s State) Done() bool { return s == StateComplete || s == StateFailed }

// PoseCoster scores the feature-space distance between two fragments.
// Unavailable costs are reported as +Inf.
type PoseCoster interface {
	PairCost(source, target int) (float32, error)
}

// Settings are the tolerances of a transition search.
type Settings struct {
	// MaximumLinearError is the largest accepted root distance.
	MaximumLinearError float64 `yaml:"maximum_linear_error" json:"maximumLinearError"`
	// MaximumAngularError is the largest accepted forward angle in radians.
	MaximumAngularError float64 `yaml:"maximum_angular_error" json:"maximumAngularError"`
	// TimeHorizon bounds how far ahead of the current frame the transition may start.
	TimeHorizon time.Duration `yaml:"time_horizon" json:"timeHorizon"`
}

// DefaultSettings returns 10cm, 15 degrees and a one second horizon.
func DefaultSettings() Settings {
	return Settings{
		MaximumLinearError:  0.1,
		MaximumAngularError: 15 * math.Pi / 180,
		TimeHorizon:         time.Second,
	}
}

// Request describes a transition.
type Request struct {
	// Current is the playing sampling time.
	Current fragment.SamplingTime
	// Root is the character's world-space root transform at Current.
	Root geom.Transform
	// Contact is the world-space transform the target's contact marker must meet.
	Contact geom.Transform
	// Intervals is the candidate pose set.
	Intervals []fragment.Interval
	Settings  Settings
}

// Options configures a Task.
type Options struct {
	// Workers bounds the intervals evaluated in parallel. Zero uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Update is the result of a simulation step.
type Update struct {
	Root         geom.Transform
	SamplingTime fragment.SamplingTime
	State        State
	// Theta is the blend weight towards the target trajectory.
	Theta float64
}

// Diagnostics summarizes a transition search.
type Diagnostics struct {
	Intervals        int
	SkippedIntervals int
	SourceCandidates int
	TargetCandidates int
	PairsTested      int
	PairsAccepted    int
	Cost             float32
	Duration         time.Duration
}

// Task is an anchored transition state machine.
// A Task is not safe for concurrent use.
type Task struct {
	id     uuid.UUID
	db     fragment.Database
	coster PoseCoster
	req    Request
	opts   Options

	state    State
	err      error
	disposed bool

	source  fragment.SamplingTime
	target  fragment.SamplingTime
	contact int
	escape  int
	cost    float32

	rate        float64
	current     geom.Transform // maps current-clip space to world
	anchor      geom.Transform // maps target-clip space to world
	delta       geom.Transform // target anchored world * source world^-1
	deltaInv    geom.Transform
	blendFrames float64
	totalFrames float64
	elapsed     time.Duration

	diag Diagnostics
}

// New validates req and creates a task in the Initializing state.
func New(db fragment.Database, coster PoseCoster, req Request, optFns ...func(o *Options)) (*Task, error) {
	if db == nil || coster == nil {
		return nil, fmt.Errorf("%w: database and pose coster are required", ErrInvalidRequest)
	}
	if db.FragmentIndex(req.Current) < 0 {
		return nil, fmt.Errorf("%w: current sampling time %s out of range", ErrInvalidRequest, req.Current)
	}
	for _, iv := range req.Intervals {
		if iv.Segment < 0 || iv.Segment >= db.NumSegments() || iv.NumFrames <= 0 ||
			iv.FirstFrame < 0 || iv.LastFrame() >= db.Segment(iv.Segment).NumFrames {
			return nil, fmt.Errorf("%w: interval %+v out of range", ErrInvalidRequest, iv)
		}
	}
	if req.Settings.TimeHorizon < 0 {
		return nil, fmt.Errorf("%w: negative time horizon", ErrInvalidRequest)
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

	id := uuid.New()
	return &Task{
		id:     id,
		db:     db,
		coster: coster,
		req:    req,
		opts:   opts,
		state:  StateInitializing,
		source: fragment.InvalidSamplingTime,
		target: fragment.InvalidSamplingTime,
		rate:   float64(db.SampleRate()),
		cost:   float32(math.Inf(1)),
	}, nil
}

// ID returns the task identifier.
func (t *Task) ID() uuid.UUID { return t.id }

// State returns the current state.
func (t *Task) State() State { return t.state }

// Err returns ErrNoTransition for a failed search, or the error that
// aborted it.
func (t *Task) Err() error { return t.err }

// Source returns the frame of the current clip at which playback switches.
// It is invalid unless a transition was found.
func (t *Task) Source() fragment.SamplingTime { return t.source }

// Target returns the target sampling time playback switches to.
// It is invalid unless a transition was found.
func (t *Task) Target() fragment.SamplingTime { return t.target }

// Cost returns the pose cost of the chosen pair, +Inf if none.
func (t *Task) Cost() float32 { return t.cost }

// Elapsed returns the simulated time since the transition was found.
func (t *Task) Elapsed() time.Duration { return t.elapsed }

// TotalTime returns the time from the current frame to the target's
// escape frame. It is zero unless a transition was found.
func (t *Task) TotalTime() time.Duration { return t.framesToDuration(t.totalFrames) }

// BlendTime returns the time from the current frame until the target's
// contact marker is reached. The blend weight reaches 1 at BlendTime, not
// at TotalTime.
func (t *Task) BlendTime() time.Duration { return t.framesToDuration(t.blendFrames) }

// Diagnostics returns the statistics of the transition search.
func (t *Task) Diagnostics() Diagnostics { return t.diag }

// Dispose releases the task. Further calls return ErrDisposed.
func (t *Task) Dispose() {
	t.disposed = true
	t.req.Intervals = nil
}

// Execute advances the task by dt. In the Initializing state the
// transition search runs first. Terminal states are returned unchanged.
func (t *Task) Execute(ctx context.Context, dt time.Duration) (Update, error) {
	if t.disposed {
		return Update{}, ErrDisposed
	}
	if t.state == StateInitializing {
		if err := t.FindTransition(ctx); err != nil {
			return t.snapshot(), err
		}
	}
	if t.state.Done() {
		return t.snapshot(), nil
	}

	t.elapsed += dt
	return t.advance(), nil
}

func (t *Task) snapshot() Update {
	switch t.state {
	case StateInitializing, StateFailed:
		return Update{Root: t.req.Root, SamplingTime: t.req.Current, State: t.state}
	default:
		return t.advance()
	}
}

// advance derives root and sampling time from the elapsed time.
func (t *Task) advance() Update {
	frames := t.elapsed.Seconds() * t.rate
	step := int(math.Floor(frames + frameEpsilon))

	theta := 1.0
	if t.blendFrames > 0 {
		theta = math.Min(1, math.Max(0, frames/t.blendFrames))
	}

	toSource := t.source.Frame - t.req.Current.Frame
	if step < toSource {
		t.state = StateWaiting
		p := t.req.Current.Frame + step
		cur := t.current.Mul(t.rootAt(t.req.Current.Segment, p))
		return Update{
			Root:         geom.Blend(cur, t.delta.Mul(cur), theta),
			SamplingTime: fragment.SamplingTime{Segment: t.req.Current.Segment, Frame: p},
			State:        t.state,
			Theta:        theta,
		}
	}

	if t.state == StateWaiting {
		t.opts.Logger.Debug("transition switched to target", "task", t.id, "target", t.target.String())
	}
	t.state = StateActive
	q := min(t.target.Frame+step-toSource, t.escape)
	tgt := t.anchor.Mul(t.rootAt(t.target.Segment, q))
	if frames+frameEpsilon >= t.totalFrames {
		t.state = StateComplete
		t.opts.Logger.Debug("transition complete", "task", t.id, "elapsed", t.elapsed)
	}
	return Update{
		Root:         geom.Blend(t.deltaInv.Mul(tgt), tgt, theta),
		SamplingTime: fragment.SamplingTime{Segment: t.target.Segment, Frame: q},
		State:        t.state,
		Theta:        theta,
	}
}

func (t *Task) rootAt(segment, frame int) geom.Transform {
	return t.db.RootTransform(t.db.Segment(segment).FirstFragment + frame)
}

func (t *Task) framesToDuration(frames float64) time.Duration {
	if t.rate <= 0 {
		return 0
	}
	return time.Duration(frames / t.rate * float64(time.Second))
}
