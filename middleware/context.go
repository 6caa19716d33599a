package middleware

import (
	"context"

	"github.com/xraph/periodic/job"
)

// Context returns middleware that makes the running job available to its
// handler through job.FromContext and job.TaskIDFromContext.
func Context() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(job.NewContext(ctx, j))
	}
}
