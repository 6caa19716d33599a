package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/periodic/job"
)

// Metrics returns middleware recording execution metrics on the global
// MeterProvider.
//
// Instruments:
//   - periodic.job.duration (Float64Histogram, seconds)
//   - periodic.job.executions (Int64Counter)
//
// Both carry task_type, queue, scheduled ("true" for jobs submitted by a
// periodic task) and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter returns metrics middleware using meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns working noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"periodic.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"periodic.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		scheduled := "false"
		if !j.TaskID.IsNil() {
			scheduled = "true"
		}
		attrs := metric.WithAttributes(
			attribute.String("task_type", j.TaskType),
			attribute.String("queue", j.Queue),
			attribute.String("scheduled", scheduled),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
