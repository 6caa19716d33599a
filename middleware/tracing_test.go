package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	j := newTestJob()

	if err := middleware.TracingWithTracer(tracer)(context.Background(), j, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "periodic.job.execute" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].SpanKind() != trace.SpanKindConsumer {
		t.Errorf("span kind = %v", spans[0].SpanKind())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status().Code)
	}

	attrs := spanAttrs(spans[0])
	expected := map[attribute.Key]attribute.Value{
		"periodic.job.id":    attribute.StringValue(j.ID.String()),
		"periodic.task_type": attribute.StringValue("report.generate"),
		"periodic.queue":     attribute.StringValue("reports"),
		"periodic.attempt":   attribute.IntValue(3),
		"periodic.task.id":   attribute.StringValue(j.TaskID.String()),
	}
	for k, want := range expected {
		if got, ok := attrs[k]; !ok || got != want {
			t.Errorf("attribute %s = %v, want %v", k, got.Emit(), want.Emit())
		}
	}
}

func TestTracing_OmitsTaskIDForDirectJobs(t *testing.T) {
	sr, tracer := setupTestTracer()
	j := newTestJob()
	j.TaskID = id.Nil

	_ = middleware.TracingWithTracer(tracer)(context.Background(), j, func(context.Context) error { return nil })

	if _, ok := spanAttrs(sr.Ended()[0])["periodic.task.id"]; ok {
		t.Error("periodic.task.id set for a job with no task")
	}
}

func TestTracing_RecordsError(t *testing.T) {
	sr, tracer := setupTestTracer()
	want := errors.New("upstream 503")

	err := middleware.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}

	span := sr.Ended()[0]
	if span.Status().Code != codes.Error || span.Status().Description != "upstream 503" {
		t.Errorf("status = %+v", span.Status())
	}
	if len(span.Events()) == 0 || span.Events()[0].Name != "exception" {
		t.Error("error not recorded as an exception event")
	}
}

func TestTracing_PropagatesSpanContext(t *testing.T) {
	_, tracer := setupTestTracer()

	_ = middleware.TracingWithTracer(tracer)(context.Background(), &job.Job{ID: id.NewJobID()}, func(ctx context.Context) error {
		if !trace.SpanContextFromContext(ctx).IsValid() {
			t.Error("handler context carries no span")
		}
		return nil
	})
}
