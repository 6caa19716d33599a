package ext

import (
	"context"
	"time"

	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// ──────────────────────────────────────────────────
// Scheduler lifecycle hooks
// ──────────────────────────────────────────────────

// TaskSubmitted is called after a claimed task's job is enqueued and the
// submission recorded.
type TaskSubmitted interface {
	OnTaskSubmitted(ctx context.Context, d *task.Definition, jobID id.JobID) error
}

// TaskReleased is called when a claim is rolled back because submission
// failed or shutdown was observed before submitting.
type TaskReleased interface {
	OnTaskReleased(ctx context.Context, d *task.Definition, cause error) error
}

// TaskInvalid is called when a claimed task is flagged for an unusable
// schedule.
type TaskInvalid interface {
	OnTaskInvalid(ctx context.Context, d *task.Definition, reason string) error
}

// TaskCompleted is called after a task's in-flight marker is cleared by its
// job reaching a terminal state.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, taskID id.TaskID, jobID id.JobID) error
}

// StoreError is called when a scheduler store operation fails.
type StoreError interface {
	OnStoreError(ctx context.Context, op string, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
