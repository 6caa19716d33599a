package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
)

// A job may finish before the scheduler records its submission. The
// completion is then re-applied a few times until the marker shows up.
const (
	completionRetries = 5
	completionBackoff = 50 * time.Millisecond
)

// completionHook clears a periodic task's in-flight marker when the job it
// submitted reaches a terminal state.
type completionHook struct {
	eng *Engine
}

func (h *completionHook) Name() string { return "periodic-completion" }

func (h *completionHook) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	return h.eng.taskCompleted(ctx, j)
}

func (h *completionHook) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	return h.eng.taskCompleted(ctx, j)
}

// taskCompleted records the completion of j against its task. A job the
// task no longer tracks, or whose task was deleted, is ignored.
func (eng *Engine) taskCompleted(ctx context.Context, j *job.Job) error {
	if j.TaskID.IsNil() {
		return nil
	}

	d, err := eng.store.GetTask(ctx, j.TaskID)
	if err != nil {
		if errors.Is(err, periodic.ErrTaskNotFound) {
			return nil
		}
		eng.extensions.EmitStoreError(ctx, "get_task", err)
		return err
	}

	switch {
	case d.InFlightJobID == j.ID:
		if err := eng.markCompleted(ctx, j.TaskID, j.ID); err != nil {
			return err
		}
		eng.logger.Debug("periodic task completed",
			slog.String("task_id", j.TaskID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("state", string(j.State)),
		)
	case d.LockedBy != "" && d.InFlightJobID.IsNil():
		// Claimed, submission not recorded yet.
		eng.async.Add(1)
		go eng.retryCompletion(j.TaskID, j.ID)
	}
	return nil
}

// markCompleted clears the marker and wakes whichever scheduler submitted
// the job.
func (eng *Engine) markCompleted(ctx context.Context, taskID id.TaskID, jobID id.JobID) error {
	if err := eng.store.MarkCompleted(ctx, taskID, jobID); err != nil {
		if errors.Is(err, periodic.ErrTaskNotFound) {
			return nil
		}
		eng.extensions.EmitStoreError(ctx, "mark_completed", err)
		return err
	}

	if local := eng.scheduler.OnTaskCompleted(taskID); !local {
		eng.broadcast()
	}
	eng.extensions.EmitTaskCompleted(ctx, taskID, jobID)
	return nil
}

func (eng *Engine) retryCompletion(taskID id.TaskID, jobID id.JobID) {
	defer eng.async.Done()
	ctx := context.Background()

	for attempt := 1; attempt <= completionRetries; attempt++ {
		time.Sleep(time.Duration(attempt) * completionBackoff)

		d, err := eng.store.GetTask(ctx, taskID)
		if err != nil {
			return
		}
		if d.InFlightJobID == jobID {
			if err := eng.markCompleted(ctx, taskID, jobID); err != nil {
				eng.logger.Warn("periodic: late completion failed",
					slog.String("task_id", taskID.String()),
					slog.String("job_id", jobID.String()),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if d.LockedBy == "" || !d.InFlightJobID.IsNil() {
			return
		}
	}
}
