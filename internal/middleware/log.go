package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/kettleworks/treesync/treequeue"
)

type contextKeyLogger struct{}

// NewLoggingHandler wraps a queue handler so every job runs with a
// job-scoped logger in its context and logs its outcome. Sync failures are
// absorbed at the worker boundary, so this log line is the only place they
// become visible.
func NewLoggingHandler(logger *slog.Logger, next treequeue.Handler) treequeue.Handler {
	return func(ctx context.Context, job treequeue.Job) error {
		jobLogger := logger.WithGroup("syncjob").
			With("job_id", job.ID()).
			With("queue", job.Queue()).
			With("attempt", job.Attempt())
		newCtx := context.WithValue(ctx, contextKeyLogger{}, jobLogger)

		now := time.Now()
		jobLogger.InfoContext(ctx, "starting job", "started_at", now.Format(time.RFC3339))
		err := next(newCtx, job)
		if err != nil {
			jobLogger.ErrorContext(ctx, "job failed", "error", err, "finished_at", time.Now().Format(time.RFC3339), "duration", time.Since(now).Milliseconds())
		} else {
			jobLogger.InfoContext(ctx, "job completed", "finished_at", time.Now().Format(time.RFC3339), "duration", time.Since(now).Milliseconds())
		}
		return err
	}
}

// LoggerFromContext returns the logger from the context. If the logger is not found, it returns the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(contextKeyLogger{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}
