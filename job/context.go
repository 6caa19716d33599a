package job

import (
	"context"

	"github.com/xraph/periodic/id"
)

type ctxKey struct{}

// NewContext returns a copy of ctx carrying j.
func NewContext(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the job being executed, if any.
func FromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(ctxKey{}).(*Job)
	return j, ok && j != nil
}

// TaskIDFromContext returns the periodic task that submitted the running
// job, or id.Nil for jobs enqueued directly.
func TaskIDFromContext(ctx context.Context) id.TaskID {
	if j, ok := FromContext(ctx); ok {
		return j.TaskID
	}
	return id.Nil
}
