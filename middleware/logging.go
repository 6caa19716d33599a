package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/periodic/job"
)

// Logging returns middleware that logs each execution attempt and its
// outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := jobAttrs(j)
		logger.Debug("job started", append(attrs, slog.Int("attempt", j.RetryCount+1))...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Error("job failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.Info("job completed", attrs...)
		return nil
	}
}

func jobAttrs(j *job.Job) []any {
	attrs := []any{
		slog.String("job_id", j.ID.String()),
		slog.String("task_type", j.TaskType),
		slog.String("queue", j.Queue),
	}
	if !j.TaskID.IsNil() {
		attrs = append(attrs, slog.String("task_id", j.TaskID.String()))
	}
	return attrs
}
