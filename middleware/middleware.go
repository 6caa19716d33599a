package middleware

import (
	"context"

	"github.com/xraph/periodic/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It receives the job being executed and the
// next handler, and must call next unless it short-circuits on error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware so that the first one listed is outermost:
// Chain(a, b)(ctx, j, h) runs a → b → h. An empty chain calls next directly.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error { return mw(ctx, j, inner) }
		}
		return h(ctx)
	}
}
