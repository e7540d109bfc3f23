package kinematch

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger with kinematch-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithAsset adds the asset name to the logger.
func (l *Logger) WithAsset(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("asset", name),
	}
}

// WithTask adds a transition task ID to the logger.
func (l *Logger) WithTask(id uuid.UUID) *Logger {
	return &Logger{
		Logger: l.Logger.With("task", id.String()),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// LogTraining logs the end of a codebook training run.
func (l *Logger) LogTraining(ctx context.Context, samples int, distortion float32, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "training failed",
			"samples", samples,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "training completed",
			"samples", samples,
			"distortion", distortion,
			"elapsed", elapsed,
		)
	}
}

// LogEncode logs a bulk encoding pass.
func (l *Logger) LogEncode(ctx context.Context, fragments, valid int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "encoding failed",
			"fragments", fragments,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "encoding completed",
			"fragments", fragments,
			"valid", valid,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, evaluated int, accepted bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"evaluated", evaluated,
			"accepted", accepted,
		)
	}
}

// LogTransition logs the outcome of a transition search.
func (l *Logger) LogTransition(ctx context.Context, id uuid.UUID, pairsTested int, err error) {
	if err != nil {
		l.WarnContext(ctx, "transition failed",
			"task", id.String(),
			"pairs_tested", pairsTested,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "transition found",
			"task", id.String(),
			"pairs_tested", pairsTested,
		)
	}
}

// LogAsset logs an asset load or save.
func (l *Logger) LogAsset(ctx context.Context, op, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "asset "+op+" failed",
			"asset", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "asset "+op,
			"asset", name,
		)
	}
}
