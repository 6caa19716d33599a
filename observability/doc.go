// Package observability records lifecycle metrics for periodic. The
// MetricsExtension implements ext hooks and counts job and task events on
// an OpenTelemetry meter.
//
// For per-execution spans and durations, see middleware.Tracing and
// middleware.Metrics.
package observability
