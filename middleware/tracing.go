package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/periodic/job"
)

// instrumentationName is the OTel scope for spans and metrics.
const instrumentationName = "github.com/xraph/periodic"

// Tracing returns middleware that wraps each execution in a span from the
// global TracerProvider. Without a configured provider it is a no-op.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns tracing middleware using tracer.
//
// Span attributes: periodic.job.id, periodic.task_type, periodic.queue,
// periodic.attempt and, for scheduled jobs, periodic.task.id.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("periodic.job.id", j.ID.String()),
			attribute.String("periodic.task_type", j.TaskType),
			attribute.String("periodic.queue", j.Queue),
			attribute.Int("periodic.attempt", j.RetryCount+1),
		}
		if !j.TaskID.IsNil() {
			attrs = append(attrs, attribute.String("periodic.task.id", j.TaskID.String()))
		}

		ctx, span := tracer.Start(ctx, "periodic.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
