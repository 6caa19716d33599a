package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/task"
)

// entry pairs a hook with the extension name captured at registration.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Hooks are type-cached at registration so emit calls iterate only
// over extensions that implement them. Register is not safe to call
// concurrently with emits; register everything at startup.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued   []entry[JobEnqueued]
	jobStarted    []entry[JobStarted]
	jobCompleted  []entry[JobCompleted]
	jobFailed     []entry[JobFailed]
	jobRetrying   []entry[JobRetrying]
	taskSubmitted []entry[TaskSubmitted]
	taskReleased  []entry[TaskReleased]
	taskInvalid   []entry[TaskInvalid]
	taskCompleted []entry[TaskCompleted]
	storeError    []entry[StoreError]
	shutdown      []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and caches every hook it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, entry[JobEnqueued]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, entry[JobRetrying]{name, h})
	}
	if h, ok := e.(TaskSubmitted); ok {
		r.taskSubmitted = append(r.taskSubmitted, entry[TaskSubmitted]{name, h})
	}
	if h, ok := e.(TaskReleased); ok {
		r.taskReleased = append(r.taskReleased, entry[TaskReleased]{name, h})
	}
	if h, ok := e.(TaskInvalid); ok {
		r.taskInvalid = append(r.taskInvalid, entry[TaskInvalid]{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, entry[TaskCompleted]{name, h})
	}
	if h, ok := e.(StoreError); ok {
		r.storeError = append(r.storeError, entry[StoreError]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		r.check("OnJobEnqueued", e.name, e.hook.OnJobEnqueued(ctx, j))
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, jobErr))
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		r.check("OnJobRetrying", e.name, e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt))
	}
}

// ──────────────────────────────────────────────────
// Scheduler event emitters
// ──────────────────────────────────────────────────

// EmitTaskSubmitted notifies all extensions that implement TaskSubmitted.
func (r *Registry) EmitTaskSubmitted(ctx context.Context, d *task.Definition, jobID id.JobID) {
	for _, e := range r.taskSubmitted {
		r.check("OnTaskSubmitted", e.name, e.hook.OnTaskSubmitted(ctx, d, jobID))
	}
}

// EmitTaskReleased notifies all extensions that implement TaskReleased.
func (r *Registry) EmitTaskReleased(ctx context.Context, d *task.Definition, cause error) {
	for _, e := range r.taskReleased {
		r.check("OnTaskReleased", e.name, e.hook.OnTaskReleased(ctx, d, cause))
	}
}

// EmitTaskInvalid notifies all extensions that implement TaskInvalid.
func (r *Registry) EmitTaskInvalid(ctx context.Context, d *task.Definition, reason string) {
	for _, e := range r.taskInvalid {
		r.check("OnTaskInvalid", e.name, e.hook.OnTaskInvalid(ctx, d, reason))
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, taskID id.TaskID, jobID id.JobID) {
	for _, e := range r.taskCompleted {
		r.check("OnTaskCompleted", e.name, e.hook.OnTaskCompleted(ctx, taskID, jobID))
	}
}

// EmitStoreError notifies all extensions that implement StoreError.
func (r *Registry) EmitStoreError(ctx context.Context, op string, storeErr error) {
	for _, e := range r.storeError {
		r.check("OnStoreError", e.name, e.hook.OnStoreError(ctx, op, storeErr))
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
