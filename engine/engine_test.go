package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/engine"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/notify"
	"github.com/xraph/periodic/scheduler"
	"github.com/xraph/periodic/store/memory"
	"github.com/xraph/periodic/task"
)

// ──────────────────────────────────────────────────
// Test doubles
// ──────────────────────────────────────────────────

type reportArgs struct {
	Kind string `json:"kind"`
}

// broadcastSpy records every wake broadcast.
type broadcastSpy struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (b *broadcastSpy) client() notify.Client {
	return notify.ClientFunc(func(_ context.Context, peers []string) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.calls = append(b.calls, append([]string(nil), peers...))
		return b.err
	})
}

func (b *broadcastSpy) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *broadcastSpy) last() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return nil
	}
	return b.calls[len(b.calls)-1]
}

// chanListener calls onWake for every value sent on wakes.
type chanListener struct {
	wakes chan struct{}
}

func (l *chanListener) Listen(ctx context.Context, onWake func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wakes:
			onWake()
		}
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func testConfig() periodic.Config {
	cfg := periodic.DefaultConfig()
	cfg.MaxPollInterval = 100 * time.Millisecond
	cfg.BackoffInitial = 10 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.StaleJobThreshold = 5 * time.Second
	cfg.Concurrency = 2
	cfg.Queues = []string{"default", "reports"}
	return cfg
}

func build(t *testing.T, s *memory.Store, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithStore(s), engine.WithConfig(testConfig())}, opts...)
	eng, err := engine.Build(opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return eng
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func boolPtr(b bool) *bool { return &b }

// claimAsPeer claims d in the store as another instance would and records a
// submission of jobID, leaving d in flight.
func claimAsPeer(t *testing.T, s *memory.Store, d *task.Definition, jobID id.JobID) {
	t.Helper()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	d.NextDueAt = &past
	if err := s.UpdateTask(ctx, d); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	now := time.Now().UTC()
	claim, err := s.FindNextDue(ctx, now, "peer", time.Minute)
	if err != nil || claim == nil {
		t.Fatalf("FindNextDue: claim=%v err=%v", claim, err)
	}
	next := now.Add(time.Hour)
	if err := s.MarkSubmitted(ctx, claim, task.Submission{JobID: jobID, SubmittedAt: now, NextDueAt: &next}); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_RequiresStore(t *testing.T) {
	_, err := engine.Build()
	if !errors.Is(err, periodic.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPollInterval = 0
	_, err := engine.Build(engine.WithStore(memory.New()), engine.WithConfig(cfg))
	if !errors.Is(err, periodic.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Management
// ──────────────────────────────────────────────────

func TestCreateTask_ComputesNextDue(t *testing.T) {
	eng := build(t, memory.New())

	before := time.Now().UTC()
	d, err := eng.CreateTask(context.Background(), engine.TaskSpec{
		Name:     "nightly-report",
		Schedule: "0 3 * * *",
		Timezone: "Europe/Berlin",
		TaskType: "report.build",
		Args:     json.RawMessage(`{"kind":"nightly"}`),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if !d.Enabled {
		t.Error("expected new task enabled by default")
	}
	if d.Queue != task.DefaultQueue {
		t.Errorf("Queue = %q, want %q", d.Queue, task.DefaultQueue)
	}
	if d.NextDueAt == nil || !d.NextDueAt.After(before) {
		t.Fatalf("NextDueAt = %v, want a time after %v", d.NextDueAt, before)
	}
	if d.ScheduleError != "" {
		t.Errorf("unexpected schedule error %q", d.ScheduleError)
	}

	got, err := eng.GetTask(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if string(got.Args) != `{"kind":"nightly"}` {
		t.Errorf("Args = %s", got.Args)
	}
}

func TestCreateTask_AllowOverlapDefault(t *testing.T) {
	cfg := testConfig()
	cfg.AllowOverlapDefault = true
	eng := build(t, memory.New(), engine.WithConfig(cfg))
	ctx := context.Background()

	d, err := eng.CreateTask(ctx, engine.TaskSpec{Name: "a", Schedule: "@hourly", TaskType: "x"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if !d.AllowOverlap {
		t.Error("expected AllowOverlapDefault to apply")
	}

	d, err = eng.CreateTask(ctx, engine.TaskSpec{Name: "b", Schedule: "@hourly", TaskType: "x", AllowOverlap: boolPtr(false)})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if d.AllowOverlap {
		t.Error("explicit AllowOverlap=false should win over the default")
	}
}

func TestCreateTask_InvalidScheduleRecorded(t *testing.T) {
	eng := build(t, memory.New())

	d, err := eng.CreateTask(context.Background(), engine.TaskSpec{
		Name: "broken", Schedule: "every tuesday-ish", TaskType: "x",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if d.ScheduleError == "" {
		t.Error("expected ScheduleError to be recorded")
	}
	if d.NextDueAt != nil {
		t.Errorf("expected nil NextDueAt, got %v", d.NextDueAt)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	eng := build(t, memory.New())
	ctx := context.Background()

	_, err := eng.CreateTask(ctx, engine.TaskSpec{Schedule: "@hourly", TaskType: "x"})
	if !errors.Is(err, periodic.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}

	if _, err := eng.CreateTask(ctx, engine.TaskSpec{Name: "dup", Schedule: "@hourly", TaskType: "x"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err = eng.CreateTask(ctx, engine.TaskSpec{Name: "dup", Schedule: "@daily", TaskType: "y"})
	if !errors.Is(err, periodic.ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestUpdateTask_AppliesPatchAndReschedules(t *testing.T) {
	eng := build(t, memory.New())
	ctx := context.Background()

	d, err := eng.CreateTask(ctx, engine.TaskSpec{Name: "sync", Schedule: "@daily", TaskType: "sync.run"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	schedule, prio := "@every 5m", 7
	updated, err := eng.UpdateTask(ctx, d.ID, engine.TaskPatch{Schedule: &schedule, Priority: &prio})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Schedule != schedule || updated.Priority != 7 {
		t.Errorf("patch not applied: %+v", updated)
	}
	if updated.Name != "sync" || updated.TaskType != "sync.run" {
		t.Errorf("unpatched fields changed: %+v", updated)
	}
	if updated.NextDueAt == nil || !updated.NextDueAt.Before(*d.NextDueAt) {
		t.Errorf("expected earlier NextDueAt after switching to @every 5m, got %v (was %v)", updated.NextDueAt, d.NextDueAt)
	}

	_, err = eng.UpdateTask(ctx, id.NewTaskID(), engine.TaskPatch{})
	if !errors.Is(err, periodic.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDisableEnable(t *testing.T) {
	eng := build(t, memory.New())
	ctx := context.Background()

	d, err := eng.CreateTask(ctx, engine.TaskSpec{Name: "t", Schedule: "@hourly", TaskType: "x"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	disabled, err := eng.DisableTask(ctx, d.ID)
	if err != nil {
		t.Fatalf("DisableTask: %v", err)
	}
	if disabled.Enabled {
		t.Error("expected disabled")
	}
	if next, _ := eng.Store().PeekNextWake(ctx, time.Now().UTC()); next != nil {
		t.Errorf("disabled task should not be scheduled, PeekNextWake = %v", next)
	}

	enabled, err := eng.EnableTask(ctx, d.ID)
	if err != nil {
		t.Fatalf("EnableTask: %v", err)
	}
	if !enabled.Enabled || enabled.NextDueAt == nil {
		t.Errorf("expected enabled with a due time, got %+v", enabled)
	}
}

func TestDeleteTask(t *testing.T) {
	eng := build(t, memory.New())
	ctx := context.Background()

	d, err := eng.CreateTask(ctx, engine.TaskSpec{Name: "t", Schedule: "@hourly", TaskType: "x"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := eng.DeleteTask(ctx, d.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := eng.GetTask(ctx, d.ID); !errors.Is(err, periodic.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := eng.DeleteTask(ctx, d.ID); !errors.Is(err, periodic.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound on second delete, got %v", err)
	}
}

func TestListTasks_OrderedByName(t *testing.T) {
	eng := build(t, memory.New())
	ctx := context.Background()

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if _, err := eng.CreateTask(ctx, engine.TaskSpec{Name: name, Schedule: "@hourly", TaskType: "x"}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	list, err := eng.ListTasks(ctx, task.ListOpts{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 3 || list[0].Name != "alpha" || list[2].Name != "charlie" {
		t.Fatalf("unexpected order: %v", list)
	}
}

// ──────────────────────────────────────────────────
// Broadcast
// ──────────────────────────────────────────────────

func TestMutationsBroadcastToPeers(t *testing.T) {
	s := memory.New()
	spy := &broadcastSpy{}
	eng := build(t, s, engine.WithNotifier(spy.client()))
	ctx := context.Background()

	peer := &cluster.Instance{
		ID:       id.NewInstanceID(),
		Address:  "http://10.0.0.7:8080",
		State:    cluster.InstanceActive,
		LastSeen: time.Now().UTC(),
	}
	if err := s.RegisterInstance(ctx, peer); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}

	d, err := eng.CreateTask(ctx, engine.TaskSpec{Name: "t", Schedule: "@hourly", TaskType: "x"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	waitFor(t, "create broadcast", func() bool { return spy.count() == 1 })
	if got := spy.last(); len(got) != 1 || got[0] != peer.Address {
		t.Fatalf("broadcast peers = %v, want [%s]", got, peer.Address)
	}

	if _, err := eng.DisableTask(ctx, d.ID); err != nil {
		t.Fatalf("DisableTask: %v", err)
	}
	if err := eng.DeleteTask(ctx, d.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	waitFor(t, "three broadcasts", func() bool { return spy.count() == 3 })
}

func TestBroadcastFailureDoesNotFailMutation(t *testing.T) {
	spy := &broadcastSpy{err: errors.New("peer unreachable")}
	eng := build(t, memory.New(), engine.WithNotifier(spy.client()))

	if _, err := eng.CreateTask(context.Background(), engine.TaskSpec{Name: "t", Schedule: "@hourly", TaskType: "x"}); err != nil {
		t.Fatalf("CreateTask should succeed despite broadcast failure: %v", err)
	}
	waitFor(t, "broadcast attempt", func() bool { return spy.count() == 1 })
}

// ──────────────────────────────────────────────────
// Completion
// ──────────────────────────────────────────────────

func TestCompletionClearsInFlightAndBroadcastsForPeerSubmissions(t *testing.T) {
	s := memory.New()
	spy := &broadcastSpy{}
	eng := build(t, s, engine.WithNotifier(spy.client()))
	ctx := context.Background()

	d, err := eng.CreateTask(ctx, engine.TaskSpec{Name: "t", Schedule: "@hourly", TaskType: "x"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	waitFor(t, "create broadcast", func() bool { return spy.count() == 1 })

	jobID := id.NewJobID()
	claimAsPeer(t, s, d, jobID)

	j := &job.Job{ID: jobID, TaskID: d.ID, State: job.StateCompleted}
	eng.Extensions().EmitJobCompleted(ctx, j, time.Millisecond)

	got, err := s.GetTask(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.InFlightJobID.IsNil() || got.LockedBy != "" {
		t.Fatalf("expected in-flight marker cleared, got job=%s lock=%q", got.InFlightJobID, got.LockedBy)
	}
	waitFor(t, "completion broadcast", func() bool { return spy.count() == 2 })
}

func TestCompletionIgnoresOtherJobsAndDeletedTasks(t *testing.T) {
	s := memory.New()
	eng := build(t, s)
	ctx := context.Background()

	d, err := eng.CreateTask(ctx, engine.TaskSpec{Name: "t", Schedule: "@hourly", TaskType: "x"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	inflight := id.NewJobID()
	claimAsPeer(t, s, d, inflight)

	eng.Extensions().EmitJobFailed(ctx, &job.Job{ID: id.NewJobID(), TaskID: d.ID}, errors.New("boom"))
	got, _ := s.GetTask(ctx, d.ID)
	if got.InFlightJobID != inflight {
		t.Fatalf("a different job must not clear the marker, got %s", got.InFlightJobID)
	}

	eng.Extensions().EmitJobCompleted(ctx, &job.Job{ID: id.NewJobID(), TaskID: id.NewTaskID()}, 0)
}

// ──────────────────────────────────────────────────
// End-to-end
// ──────────────────────────────────────────────────

func TestEngine_PeriodicTaskRunsAndCompletes(t *testing.T) {
	s := memory.New()
	eng := build(t, s)

	var runs atomic.Int32
	var gotKind atomic.Value
	engine.Register(eng, job.NewDefinition("report.build", func(_ context.Context, a reportArgs) error {
		gotKind.Store(a.Kind)
		runs.Add(1)
		return nil
	}, job.WithMaxRetries(1)))

	start(t, eng)

	d, err := eng.CreateTask(context.Background(), engine.TaskSpec{
		Name:     "every-second",
		Schedule: "@every 1s",
		TaskType: "report.build",
		Args:     json.RawMessage(`{"kind":"hourly"}`),
		Queue:    "reports",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	waitFor(t, "first run", func() bool { return runs.Load() >= 1 })
	if kind, _ := gotKind.Load().(string); kind != "hourly" {
		t.Errorf("handler args kind = %q, want hourly", kind)
	}

	waitFor(t, "in-flight cleared", func() bool {
		got, err := s.GetTask(context.Background(), d.ID)
		return err == nil && got.LastSubmittedAt != nil && got.InFlightJobID.IsNil()
	})

	jobs, err := s.ListJobsByState(context.Background(), job.StateCompleted, job.ListOpts{TaskID: d.ID})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if len(jobs) == 0 {
		t.Fatal("expected a completed job linked to the task")
	}
	if jobs[0].Queue != "reports" || jobs[0].MaxRetries != 1 {
		t.Errorf("job queue=%q max_retries=%d, want reports/1", jobs[0].Queue, jobs[0].MaxRetries)
	}
}

func TestEngine_OverlapForbiddenKeepsOneInFlight(t *testing.T) {
	s := memory.New()
	eng := build(t, s)

	release := make(chan struct{})
	var runs atomic.Int32
	engine.Register(eng, job.NewDefinition("slow", func(ctx context.Context, _ struct{}) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	start(t, eng)

	d, err := eng.CreateTask(context.Background(), engine.TaskSpec{
		Name: "slow", Schedule: "@every 1s", TaskType: "slow", AllowOverlap: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	waitFor(t, "first run", func() bool { return runs.Load() == 1 })
	waitFor(t, "local in-flight marker", func() bool { return eng.Scheduler().RunState().HasMarker(d.ID) })

	// Two more occurrences come due while the first job runs.
	time.Sleep(2200 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("overlap forbidden: runs = %d, want 1", got)
	}

	close(release)
	waitFor(t, "second run after completion", func() bool { return runs.Load() >= 2 })
}

func TestEngine_EnqueueRawUsesRegisteredOptions(t *testing.T) {
	s := memory.New()
	eng := build(t, s)

	done := make(chan struct{}, 1)
	eng.Registry().Register("cleanup", func(context.Context, []byte) error {
		done <- struct{}{}
		return nil
	}, job.WithQueue("reports"), job.WithMaxRetries(9))

	j, err := eng.EnqueueRaw(context.Background(), "cleanup", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if j.Queue != "reports" || j.MaxRetries != 9 {
		t.Errorf("job queue=%q max_retries=%d, want reports/9", j.Queue, j.MaxRetries)
	}

	start(t, eng)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for one-off job")
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestEngine_LifecycleStates(t *testing.T) {
	s := memory.New()
	eng := build(t, s)
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Start(ctx); !errors.Is(err, periodic.ErrSchedulerStarted) {
		t.Fatalf("second Start: expected ErrSchedulerStarted, got %v", err)
	}

	instances, err := s.ListInstances(ctx)
	if err != nil || len(instances) != 1 || instances[0].ID != eng.InstanceID() {
		t.Fatalf("expected this instance registered, got %v (err %v)", instances, err)
	}

	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := eng.Scheduler().State(); got != scheduler.StateStopped {
		t.Errorf("scheduler state = %s, want stopped", got)
	}
	if instances, _ := s.ListInstances(ctx); len(instances) != 0 {
		t.Errorf("expected instance deregistered, got %d", len(instances))
	}
	if err := eng.Start(ctx); !errors.Is(err, periodic.ErrSchedulerStopped) {
		t.Fatalf("Start after Stop: expected ErrSchedulerStopped, got %v", err)
	}
}

func TestEngine_ListenerWakesScheduler(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPollInterval = time.Minute
	cfg.BackoffInitial = time.Second
	l := &chanListener{wakes: make(chan struct{})}
	eng := build(t, memory.New(), engine.WithConfig(cfg), engine.WithListener(l))
	start(t, eng)

	run := eng.Scheduler().RunState()
	waitFor(t, "first iteration", func() bool { return run.Iterations() >= 1 })
	before := run.Iterations()

	l.wakes <- struct{}{}
	waitFor(t, "notify wake", func() bool {
		return run.Iterations() > before && run.LastWake() == scheduler.WakeNotify
	})
}

func TestEngine_Status(t *testing.T) {
	eng := build(t, memory.New())
	start(t, eng)

	run := eng.Scheduler().RunState()
	waitFor(t, "first iteration", func() bool { return run.Iterations() >= 1 })

	st := eng.Status(context.Background())
	if st.State != "running" {
		t.Errorf("State = %q, want running", st.State)
	}
	if st.InstanceID != eng.InstanceID() {
		t.Errorf("InstanceID mismatch")
	}
	if st.Config.MaxPollInterval != "100ms" {
		t.Errorf("MaxPollInterval = %q, want 100ms", st.Config.MaxPollInterval)
	}
	if st.PendingJobs != 0 {
		t.Errorf("PendingJobs = %d, want 0", st.PendingJobs)
	}
}
