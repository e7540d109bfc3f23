package kinematch

import (
	"log/slog"

	"github.com/hupe1980/kinematch/asset"
	"github.com/hupe1980/kinematch/resource"
	"github.com/hupe1980/kinematch/transition"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	workers          int
	batchSize        int
	compression      asset.Compression
	compressionSet   bool
	controller       *resource.Controller
	tableCacheSize   int
	transition       *transition.Settings
}

// Option configures AssetBuilder and Matcher construction.
//
// Options set here take precedence over the corresponding Config fields.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &kinematch.BasicMetricsCollector{}
//	m, _ := kinematch.NewMatcher(db, a, kinematch.WithMetricsCollector(metrics))
//	// ... use m ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := kinematch.NewJSONLogger(slog.LevelInfo)
//	b, _ := kinematch.NewAssetBuilder(db, cfg, kinematch.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithWorkers bounds the goroutines used for training, encoding and
// transition searches. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithBatchSize sets the number of k-means stages advanced per FrameUpdate.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithCompression selects the block compression of baked assets.
func WithCompression(c asset.Compression) Option {
	return func(o *options) {
		o.compression = c
		o.compressionSet = true
	}
}

// WithResourceController shares memory, worker and tick budgets between
// builders and matchers.
//
// Example:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     512 << 20,
//	    MaxBackgroundWorkers: 2,
//	    TickRate:             60,
//	})
//	b, _ := kinematch.NewAssetBuilder(db, cfg, kinematch.WithResourceController(rc))
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithTableCacheSize bounds the per-fragment distance tables a Matcher
// caches for transition pair costs.
func WithTableCacheSize(n int) Option {
	return func(o *options) {
		o.tableCacheSize = n
	}
}

// WithTransitionSettings sets the tolerances Matcher.TransitionTo uses.
func WithTransitionSettings(s transition.Settings) Option {
	return func(o *options) {
		o.transition = &s
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
