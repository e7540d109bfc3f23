package search

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/kinematch/distance"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/internal/queue"
)

// Query describes the live character state.
type Query struct {
	// Features are the raw pose features.
	Features []float32
	// Trajectory are the desired trajectory features. Ignored when empty,
	// when TrajectoryWeight <= 0 or when the database has none.
	Trajectory       []float32
	TrajectoryWeight float32
	// MaxDeviation is the exclusive cost threshold for switching. Values
	// <= 0 accept any candidate.
	MaxDeviation float32
	// Current is the playing sampling time, kept when nothing is accepted.
	Current fragment.SamplingTime
	// Candidates restricts the search. Nil searches every fragment.
	Candidates *roaring.Bitmap
}

// Cost is the breakdown of a candidate's score.
type Cost struct {
	Pose       float32
	Trajectory float32
	Total      float32
}

// Result is the outcome of a search.
type Result struct {
	// SamplingTime is the chosen fragment, or the query's Current when no
	// candidate was accepted.
	SamplingTime fragment.SamplingTime
	// Fragment is the index of the best candidate, -1 when none was found.
	Fragment int
	// Cost of the best candidate, +Inf when none was found.
	Cost Cost
	// Accepted reports whether the best candidate passed MaxDeviation.
	Accepted bool
	// Evaluated is the number of candidates scored.
	Evaluated int
}

// Candidate is a scored fragment reported by TopK.
type Candidate struct {
	Fragment     int
	SamplingTime fragment.SamplingTime
	Cost         Cost
}

type scorer struct {
	e          *Engine
	table      []float32
	trajectory []float32
	weight     float32
}

func (e *Engine) newScorer(q Query) (*scorer, error) {
	table, err := e.Table(q.Features)
	if err != nil {
		return nil, err
	}
	s := &scorer{e: e, table: table}
	if n := e.db.NumTrajectoryFeatures(); n > 0 && q.TrajectoryWeight > 0 && len(q.Trajectory) == n {
		s.trajectory = q.Trajectory
		s.weight = q.TrajectoryWeight
	}
	return s, nil
}

func (s *scorer) cost(i int) Cost {
	c := Cost{Pose: s.e.PoseCost(s.table, i)}
	c.Total = c.Pose
	if s.trajectory != nil && !math.IsInf(float64(c.Pose), 1) {
		c.Trajectory = distance.Euclidean(s.trajectory, s.e.db.TrajectoryFeatures(i))
		c.Total += s.weight * c.Trajectory
	}
	return c
}

func (e *Engine) each(candidates *roaring.Bitmap, fn func(i int)) {
	if candidates == nil {
		candidates = e.valid
	}
	it := candidates.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		if i >= e.db.NumFragments() {
			return
		}
		fn(i)
	}
}

// Search returns the lowest-cost candidate for q.
func (e *Engine) Search(q Query) (Result, error) {
	s, err := e.newScorer(q)
	if err != nil {
		return Result{}, err
	}

	inf := float32(math.Inf(1))
	res := Result{
		Fragment: -1,
		Cost:     Cost{Pose: inf, Trajectory: inf, Total: inf},
	}
	e.each(q.Candidates, func(i int) {
		c := s.cost(i)
		res.Evaluated++
		if c.Total < res.Cost.Total {
			res.Fragment, res.Cost = i, c
		}
	})

	res.Accepted = res.Fragment >= 0 && (q.MaxDeviation <= 0 || res.Cost.Total < q.MaxDeviation)
	if res.Accepted {
		res.SamplingTime = e.db.SamplingTime(res.Fragment)
	} else {
		res.SamplingTime = q.Current
	}

	e.logger.Debug("search completed",
		"evaluated", res.Evaluated,
		"fragment", res.Fragment,
		"cost", res.Cost.Total,
		"accepted", res.Accepted,
	)
	return res, nil
}

// TopK returns the k lowest-cost candidates, best first. MaxDeviation is
// ignored.
func (e *Engine) TopK(q Query, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	s, err := e.newScorer(q)
	if err != nil {
		return nil, err
	}

	top := queue.NewTopK(k)
	costs := make(map[int]Cost, k)
	e.each(q.Candidates, func(i int) {
		c := s.cost(i)
		if math.IsInf(float64(c.Total), 1) {
			return
		}
		if top.Offer(queue.Item{Fragment: i, Cost: c.Total}) {
			costs[i] = c
		}
	})

	items := top.Sorted()
	out := make([]Candidate, len(items))
	for n, item := range items {
		out[n] = Candidate{
			Fragment:     item.Fragment,
			SamplingTime: e.db.SamplingTime(item.Fragment),
			Cost:         costs[item.Fragment],
		}
	}
	return out, nil
}
