package middleware

import (
	"context"

	"github.com/xraph/periodic/job"
)

// Timeout returns middleware that bounds execution by the job's Timeout.
// Handlers observe the deadline through ctx. A zero Timeout leaves ctx
// unchanged.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}
