package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/task"
)

// TaskSpec describes a new periodic task definition.
type TaskSpec struct {
	Name     string          `json:"name"`
	Schedule string          `json:"schedule"`
	Timezone string          `json:"timezone,omitempty"`
	TaskType string          `json:"task_type"`
	Args     json.RawMessage `json:"args,omitempty"`
	Queue    string          `json:"queue,omitempty"`
	Priority int             `json:"priority,omitempty"`

	// AllowOverlap defaults to Config.AllowOverlapDefault when nil.
	AllowOverlap *bool `json:"allow_overlap,omitempty"`
	// Enabled defaults to true when nil.
	Enabled *bool `json:"enabled,omitempty"`
}

// TaskPatch changes selected fields of a definition. Nil fields are kept.
type TaskPatch struct {
	Name         *string          `json:"name,omitempty"`
	Schedule     *string          `json:"schedule,omitempty"`
	Timezone     *string          `json:"timezone,omitempty"`
	TaskType     *string          `json:"task_type,omitempty"`
	Args         *json.RawMessage `json:"args,omitempty"`
	Queue        *string          `json:"queue,omitempty"`
	Priority     *int             `json:"priority,omitempty"`
	AllowOverlap *bool            `json:"allow_overlap,omitempty"`
	Enabled      *bool            `json:"enabled,omitempty"`
}

func (p TaskPatch) apply(d *task.Definition) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Schedule != nil {
		d.Schedule = *p.Schedule
	}
	if p.Timezone != nil {
		d.Timezone = *p.Timezone
	}
	if p.TaskType != nil {
		d.TaskType = *p.TaskType
	}
	if p.Args != nil {
		d.Args = append([]byte(nil), *p.Args...)
	}
	if p.Queue != nil {
		d.Queue = *p.Queue
	}
	if p.Priority != nil {
		d.Priority = *p.Priority
	}
	if p.AllowOverlap != nil {
		d.AllowOverlap = *p.AllowOverlap
	}
	if p.Enabled != nil {
		d.Enabled = *p.Enabled
	}
}

// CreateTask validates spec, computes the first due time and persists the
// definition. A schedule that does not parse is stored with ScheduleError
// set and is never claimed until edited.
func (eng *Engine) CreateTask(ctx context.Context, spec TaskSpec) (*task.Definition, error) {
	d := &task.Definition{
		Entity:       periodic.NewEntity(),
		ID:           id.NewTaskID(),
		Name:         spec.Name,
		Enabled:      true,
		Schedule:     spec.Schedule,
		Timezone:     spec.Timezone,
		TaskType:     spec.TaskType,
		Queue:        spec.Queue,
		Priority:     spec.Priority,
		AllowOverlap: eng.cfg.AllowOverlapDefault,
	}
	if len(spec.Args) > 0 {
		d.Args = append([]byte(nil), spec.Args...)
	}
	if spec.AllowOverlap != nil {
		d.AllowOverlap = *spec.AllowOverlap
	}
	if spec.Enabled != nil {
		d.Enabled = *spec.Enabled
	}
	if d.Queue == "" {
		d.Queue = task.DefaultQueue
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.Reschedule(eng.cache, time.Now().UTC())

	if err := eng.store.CreateTask(ctx, d); err != nil {
		return nil, fmt.Errorf("create task %q: %w", d.Name, err)
	}

	eng.logTaskChange("periodic task created", d)
	eng.changed()
	return d, nil
}

// GetTask returns a definition by ID.
func (eng *Engine) GetTask(ctx context.Context, taskID id.TaskID) (*task.Definition, error) {
	return eng.store.GetTask(ctx, taskID)
}

// ListTasks returns definitions ordered by name.
func (eng *Engine) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Definition, error) {
	return eng.store.ListTasks(ctx, opts)
}

// UpdateTask applies patch and recomputes the next due time from now.
func (eng *Engine) UpdateTask(ctx context.Context, taskID id.TaskID, patch TaskPatch) (*task.Definition, error) {
	return eng.mutate(ctx, taskID, "periodic task updated", patch.apply)
}

// EnableTask enables a definition and recomputes its next due time.
func (eng *Engine) EnableTask(ctx context.Context, taskID id.TaskID) (*task.Definition, error) {
	return eng.mutate(ctx, taskID, "periodic task enabled", func(d *task.Definition) { d.Enabled = true })
}

// DisableTask disables a definition. A job already in flight still runs to
// completion.
func (eng *Engine) DisableTask(ctx context.Context, taskID id.TaskID) (*task.Definition, error) {
	return eng.mutate(ctx, taskID, "periodic task disabled", func(d *task.Definition) { d.Enabled = false })
}

// DeleteTask removes a definition.
func (eng *Engine) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	if err := eng.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	eng.logger.Info("periodic task deleted", slog.String("task_id", taskID.String()))
	eng.changed()
	return nil
}

func (eng *Engine) mutate(ctx context.Context, taskID id.TaskID, msg string, edit func(*task.Definition)) (*task.Definition, error) {
	d, err := eng.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	edit(d)
	if d.Queue == "" {
		d.Queue = task.DefaultQueue
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.Reschedule(eng.cache, time.Now().UTC())
	d.Touch()

	if err := eng.store.UpdateTask(ctx, d); err != nil {
		return nil, fmt.Errorf("update task %q: %w", d.Name, err)
	}

	eng.logTaskChange(msg, d)
	eng.changed()
	return d, nil
}

// changed wakes the local scheduler and notifies peers.
func (eng *Engine) changed() {
	eng.scheduler.NotifyChange()
	eng.broadcast()
}

func (eng *Engine) logTaskChange(msg string, d *task.Definition) {
	attrs := []any{
		slog.String("task_id", d.ID.String()),
		slog.String("task_name", d.Name),
		slog.String("schedule", d.Schedule),
		slog.Bool("enabled", d.Enabled),
	}
	if d.NextDueAt != nil {
		attrs = append(attrs, slog.Time("next_due_at", *d.NextDueAt))
	}
	if d.ScheduleError != "" {
		attrs = append(attrs, slog.String("schedule_error", d.ScheduleError))
	}
	eng.logger.Info(msg, attrs...)
}
