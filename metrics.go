package kinematch

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordTraining is called once a codebook training run has finished.
	RecordTraining(samples int, duration time.Duration, err error)

	// RecordEncode is called after the bulk encoding of a database.
	RecordEncode(fragments int, duration time.Duration, err error)

	// RecordSearch is called after each search. evaluated is the number of
	// scored candidates.
	RecordSearch(evaluated int, accepted bool, duration time.Duration, err error)

	// RecordTransition is called after each transition search.
	RecordTransition(succeeded bool, pairsTested int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTraining(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordEncode(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordSearch(int, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordTransition(bool, int, time.Duration)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TrainingCount      atomic.Int64
	TrainingErrors     atomic.Int64
	TrainingSamples    atomic.Int64
	EncodeCount        atomic.Int64
	EncodeErrors       atomic.Int64
	EncodedFragments   atomic.Int64
	SearchCount        atomic.Int64
	SearchErrors       atomic.Int64
	SearchAccepted     atomic.Int64
	SearchEvaluated    atomic.Int64
	SearchTotalNanos   atomic.Int64
	TransitionCount    atomic.Int64
	TransitionFailures atomic.Int64
	TransitionPairs    atomic.Int64
	TransitionNanos    atomic.Int64
}

// RecordTraining implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTraining(samples int, duration time.Duration, err error) {
	b.TrainingCount.Add(1)
	b.TrainingSamples.Add(int64(samples))
	if err != nil {
		b.TrainingErrors.Add(1)
	}
}

// RecordEncode implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEncode(fragments int, duration time.Duration, err error) {
	b.EncodeCount.Add(1)
	if err != nil {
		b.EncodeErrors.Add(1)
		return
	}
	b.EncodedFragments.Add(int64(fragments))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(evaluated int, accepted bool, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
		return
	}
	b.SearchEvaluated.Add(int64(evaluated))
	if accepted {
		b.SearchAccepted.Add(1)
	}
}

// RecordTransition implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTransition(succeeded bool, pairsTested int, duration time.Duration) {
	b.TransitionCount.Add(1)
	b.TransitionPairs.Add(int64(pairsTested))
	b.TransitionNanos.Add(duration.Nanoseconds())
	if !succeeded {
		b.TransitionFailures.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainingCount:      b.TrainingCount.Load(),
		TrainingErrors:     b.TrainingErrors.Load(),
		TrainingSamples:    b.TrainingSamples.Load(),
		EncodeCount:        b.EncodeCount.Load(),
		EncodeErrors:       b.EncodeErrors.Load(),
		EncodedFragments:   b.EncodedFragments.Load(),
		SearchCount:        b.SearchCount.Load(),
		SearchErrors:       b.SearchErrors.Load(),
		SearchAccepted:     b.SearchAccepted.Load(),
		SearchEvaluated:    b.SearchEvaluated.Load(),
		SearchAvgNanos:     avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		TransitionCount:    b.TransitionCount.Load(),
		TransitionFailures: b.TransitionFailures.Load(),
		TransitionPairs:    b.TransitionPairs.Load(),
		TransitionAvgNanos: avg(b.TransitionNanos.Load(), b.TransitionCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainingCount      int64
	TrainingErrors     int64
	TrainingSamples    int64
	EncodeCount        int64
	EncodeErrors       int64
	EncodedFragments   int64
	SearchCount        int64
	SearchErrors       int64
	SearchAccepted     int64
	SearchEvaluated    int64
	SearchAvgNanos     int64
	TransitionCount    int64
	TransitionFailures int64
	TransitionPairs    int64
	TransitionAvgNanos int64
}
