// Package middleware provides composable middleware for job execution.
//
// Middleware wrap each handler call synchronously. [Chain] composes them
// with the first listed outermost:
//
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Timeout(),
//	    middleware.Context(),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs task type, queue, attempt, duration and outcome
//   - [Recover] converts panics into errors
//   - [Timeout] applies the job's Timeout as a context deadline
//   - [Context] exposes the running job through job.FromContext
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-task-type duration and outcome counters
package middleware
