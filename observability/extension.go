package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/periodic/ext"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobEnqueued   = (*MetricsExtension)(nil)
	_ ext.JobCompleted  = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.JobRetrying   = (*MetricsExtension)(nil)
	_ ext.TaskSubmitted = (*MetricsExtension)(nil)
	_ ext.TaskReleased  = (*MetricsExtension)(nil)
	_ ext.TaskInvalid   = (*MetricsExtension)(nil)
	_ ext.TaskCompleted = (*MetricsExtension)(nil)
	_ ext.StoreError    = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/periodic/observability"

// MetricsExtension counts lifecycle events. Job counters carry task_type
// and queue attributes, task counters carry task_name, and store errors
// carry op.
type MetricsExtension struct {
	JobEnqueued   metric.Int64Counter
	JobCompleted  metric.Int64Counter
	JobFailed     metric.Int64Counter
	JobRetried    metric.Int64Counter
	TaskSubmitted metric.Int64Counter
	TaskReleased  metric.Int64Counter
	TaskInvalid   metric.Int64Counter
	TaskCompleted metric.Int64Counter
	StoreErrors   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a working noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:   counter("periodic.job.enqueued", "Jobs added to the queue"),
		JobCompleted:  counter("periodic.job.completed", "Jobs that finished successfully"),
		JobFailed:     counter("periodic.job.failed", "Jobs that failed permanently"),
		JobRetried:    counter("periodic.job.retried", "Job retry attempts scheduled"),
		TaskSubmitted: counter("periodic.task.submitted", "Periodic occurrences submitted as jobs"),
		TaskReleased:  counter("periodic.task.released", "Claims rolled back without a submission"),
		TaskInvalid:   counter("periodic.task.invalid", "Task definitions flagged with an invalid schedule"),
		TaskCompleted: counter("periodic.task.completed", "In-flight markers cleared by job completion"),
		StoreErrors:   counter("periodic.store.errors", "Scheduler store operations that failed"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("task_type", j.TaskType),
		attribute.String("queue", j.Queue),
	)
}

func taskAttrs(d *task.Definition) metric.AddOption {
	return metric.WithAttributes(attribute.String("task_name", d.Name))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Scheduler hooks ─────────────────────────────────

// OnTaskSubmitted implements ext.TaskSubmitted.
func (m *MetricsExtension) OnTaskSubmitted(ctx context.Context, d *task.Definition, _ id.JobID) error {
	m.TaskSubmitted.Add(ctx, 1, taskAttrs(d))
	return nil
}

// OnTaskReleased implements ext.TaskReleased.
func (m *MetricsExtension) OnTaskReleased(ctx context.Context, d *task.Definition, _ error) error {
	m.TaskReleased.Add(ctx, 1, taskAttrs(d))
	return nil
}

// OnTaskInvalid implements ext.TaskInvalid.
func (m *MetricsExtension) OnTaskInvalid(ctx context.Context, d *task.Definition, _ string) error {
	m.TaskInvalid.Add(ctx, 1, taskAttrs(d))
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, _ id.TaskID, _ id.JobID) error {
	m.TaskCompleted.Add(ctx, 1)
	return nil
}

// OnStoreError implements ext.StoreError.
func (m *MetricsExtension) OnStoreError(ctx context.Context, op string, _ error) error {
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	return nil
}
