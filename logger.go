package matchcore

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with matchcore-specific helpers.
// Log lines carry record ids, content hashes and counts only; raw record
// text never reaches the log output.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogUpsert logs an upsert operation.
func (l *Logger) LogUpsert(ctx context.Context, id, contentHash string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"record_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "upsert completed",
			"record_id", id,
			"content_hash", contentHash,
		)
	}
}

// LogUpsertBatch logs a batch upsert operation.
func (l *Logger) LogUpsertBatch(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch upsert completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.InfoContext(ctx, "batch upsert completed",
			"count", count,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id string, existed bool) {
	l.DebugContext(ctx, "delete completed",
		"record_id", id,
		"existed", existed,
	)
}

// LogMatch logs a match query.
func (l *Logger) LogMatch(ctx context.Context, topK, recallBudget, resultsFound int, status string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "match failed",
			"top_k", topK,
			"recall_budget", recallBudget,
			"status", status,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "match completed",
			"top_k", topK,
			"recall_budget", recallBudget,
			"results", resultsFound,
			"status", status,
		)
	}
}

// LogRebuild logs a partition rebuild.
func (l *Logger) LogRebuild(ctx context.Context, partitions, vectors int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"partitions", partitions,
			"vectors", vectors,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"partitions", partitions,
			"vectors", vectors,
		)
	}
}

// LogSnapshot logs a snapshot save or restore.
func (l *Logger) LogSnapshot(ctx context.Context, op string, vectors int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"op", op,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot completed",
			"op", op,
			"vectors", vectors,
		)
	}
}

// LogDrift logs a finalized drift window.
func (l *Logger) LogDrift(ctx context.Context, windowID string, psi float64, alert bool) {
	if alert {
		l.WarnContext(ctx, "drift threshold exceeded",
			"window_id", windowID,
			"psi", psi,
		)
	} else {
		l.DebugContext(ctx, "drift window finalized",
			"window_id", windowID,
			"psi", psi,
		)
	}
}
