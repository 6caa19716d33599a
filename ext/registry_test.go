package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/periodic/ext"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/task"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnJobEnqueued(context.Context, *job.Job) error { return e.record("OnJobEnqueued") }
func (e *allHooksExt) OnJobStarted(context.Context, *job.Job) error  { return e.record("OnJobStarted") }
func (e *allHooksExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.record("OnJobCompleted")
}
func (e *allHooksExt) OnJobFailed(context.Context, *job.Job, error) error {
	return e.record("OnJobFailed")
}
func (e *allHooksExt) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	return e.record("OnJobRetrying")
}
func (e *allHooksExt) OnTaskSubmitted(context.Context, *task.Definition, id.JobID) error {
	return e.record("OnTaskSubmitted")
}
func (e *allHooksExt) OnTaskReleased(context.Context, *task.Definition, error) error {
	return e.record("OnTaskReleased")
}
func (e *allHooksExt) OnTaskInvalid(context.Context, *task.Definition, string) error {
	return e.record("OnTaskInvalid")
}
func (e *allHooksExt) OnTaskCompleted(context.Context, id.TaskID, id.JobID) error {
	return e.record("OnTaskCompleted")
}
func (e *allHooksExt) OnStoreError(context.Context, string, error) error {
	return e.record("OnStoreError")
}
func (e *allHooksExt) OnShutdown(context.Context) error { return e.record("OnShutdown") }

type jobOnlyExt struct {
	calls []string
}

func (e *jobOnlyExt) Name() string { return "job-only" }

func (e *jobOnlyExt) OnJobEnqueued(context.Context, *job.Job) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

type failingExt struct{}

func (failingExt) Name() string { return "failing" }

func (failingExt) OnJobEnqueued(context.Context, *job.Job) error {
	return errors.New("boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	jo := &jobOnlyExt{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := &job.Job{TaskType: "test"}

	r.EmitJobEnqueued(ctx, j)
	if len(all.calls) != 1 || len(jo.calls) != 1 {
		t.Fatalf("expected both called once, got all=%v jo=%v", all.calls, jo.calls)
	}

	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{}
	d := &task.Definition{Name: "nightly"}

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitTaskSubmitted(ctx, d, id.NewJobID())
	r.EmitTaskReleased(ctx, d, errors.New("queue down"))
	r.EmitTaskInvalid(ctx, d, "bad schedule")
	r.EmitTaskCompleted(ctx, id.NewTaskID(), id.NewJobID())
	r.EmitStoreError(ctx, "find_next_due", errors.New("timeout"))
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobCompleted", "OnJobFailed", "OnJobRetrying",
		"OnTaskSubmitted", "OnTaskReleased", "OnTaskInvalid", "OnTaskCompleted",
		"OnStoreError", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(failingExt{})
	r.Register(all)

	r.EmitJobEnqueued(context.Background(), &job.Job{})

	if len(all.calls) != 1 || all.calls[0] != "OnJobEnqueued" {
		t.Fatalf("expected [OnJobEnqueued] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	r.EmitJobEnqueued(ctx, &job.Job{})
	r.EmitJobCompleted(ctx, &job.Job{}, time.Second)
	r.EmitTaskSubmitted(ctx, &task.Definition{}, id.Nil)
	r.EmitTaskCompleted(ctx, id.Nil, id.Nil)
	r.EmitStoreError(ctx, "peek_next_wake", errors.New("x"))
	r.EmitShutdown(ctx)
}
