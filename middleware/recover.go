package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/periodic/job"
)

// Recover returns middleware that turns a handler panic into an error so
// the job follows the normal retry path.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					append(jobAttrs(j),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)...,
				)
				err = fmt.Errorf("panic in %s handler: %v", j.TaskType, r)
			}
		}()
		return next(ctx)
	}
}
