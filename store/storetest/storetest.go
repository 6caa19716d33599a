// Package storetest is a conformance suite for store.Store backends.
//
// Every backend's tests call Run with a constructor returning a fresh,
// migrated, empty store. The suite pins down the claim semantics the
// scheduler depends on: atomic exclusive claims, (NextDueAt, ID) ordering,
// in-flight markers, release and stale-claim recovery.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/store"
	"github.com/xraph/periodic/task"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the full conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("TaskCRUD", func(t *testing.T) { testTaskCRUD(t, newStore(t)) })
	t.Run("ClaimDue", func(t *testing.T) { testClaimDue(t, newStore(t)) })
	t.Run("ClaimOrdering", func(t *testing.T) { testClaimOrdering(t, newStore(t)) })
	t.Run("ClaimSkipsIneligible", func(t *testing.T) { testClaimSkipsIneligible(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("InFlightForbidsOverlap", func(t *testing.T) { testInFlight(t, newStore(t)) })
	t.Run("OverlapAllowed", func(t *testing.T) { testOverlapAllowed(t, newStore(t)) })
	t.Run("Release", func(t *testing.T) { testRelease(t, newStore(t)) })
	t.Run("StaleClaim", func(t *testing.T) { testStaleClaim(t, newStore(t)) })
	t.Run("MarkInvalid", func(t *testing.T) { testMarkInvalid(t, newStore(t)) })
	t.Run("PeekNextWake", func(t *testing.T) { testPeekNextWake(t, newStore(t)) })
	t.Run("JobQueue", func(t *testing.T) { testJobQueue(t, newStore(t)) })
	t.Run("JobLifecycle", func(t *testing.T) { testJobLifecycle(t, newStore(t)) })
	t.Run("Cluster", func(t *testing.T) { testCluster(t, newStore(t)) })
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// Now returns the current time at millisecond precision, which every
// backend round-trips exactly.
func Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// NewTask builds an enabled definition due at dueAt.
func NewTask(name string, dueAt time.Time) *task.Definition {
	due := dueAt
	return &task.Definition{
		Entity:    periodic.NewEntity(),
		ID:        id.NewTaskID(),
		Name:      name,
		Enabled:   true,
		Schedule:  "@every 60s",
		TaskType:  "test.task",
		Args:      []byte(`{"n":1}`),
		Queue:     task.DefaultQueue,
		NextDueAt: &due,
	}
}

func mustCreate(t *testing.T, s store.Store, d *task.Definition) {
	t.Helper()
	if err := s.CreateTask(context.Background(), d); err != nil {
		t.Fatalf("CreateTask(%s): %v", d.Name, err)
	}
}

func mustClaim(t *testing.T, s store.Store, now time.Time) *task.Claim {
	t.Helper()
	c, err := s.FindNextDue(context.Background(), now, "owner", time.Minute)
	if err != nil {
		t.Fatalf("FindNextDue: %v", err)
	}
	if c == nil {
		t.Fatal("FindNextDue: expected a claim, got none")
	}
	return c
}

func mustNotClaim(t *testing.T, s store.Store, now time.Time) {
	t.Helper()
	c, err := s.FindNextDue(context.Background(), now, "owner", time.Minute)
	if err != nil {
		t.Fatalf("FindNextDue: %v", err)
	}
	if c != nil {
		t.Fatalf("FindNextDue: expected none, claimed %s", c.Task.Name)
	}
}

func timePtr(t time.Time) *time.Time { return &t }

// ──────────────────────────────────────────────────
// Task store
// ──────────────────────────────────────────────────

func testTaskCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()

	a := NewTask("alpha", now)
	b := NewTask("bravo", now)
	b.Enabled = false
	mustCreate(t, s, b)
	mustCreate(t, s, a)

	dup := NewTask("alpha", now)
	if err := s.CreateTask(ctx, dup); !errors.Is(err, periodic.ErrDuplicateTask) {
		t.Fatalf("duplicate name: expected ErrDuplicateTask, got %v", err)
	}

	got, err := s.GetTask(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != "alpha" || got.TaskType != "test.task" || string(got.Args) != `{"n":1}` || !got.Enabled {
		t.Errorf("GetTask returned %+v", got)
	}
	if got.NextDueAt == nil || !got.NextDueAt.Equal(now) {
		t.Errorf("NextDueAt = %v, want %v", got.NextDueAt, now)
	}

	if _, err := s.GetTask(ctx, id.NewTaskID()); !errors.Is(err, periodic.ErrTaskNotFound) {
		t.Errorf("GetTask missing: expected ErrTaskNotFound, got %v", err)
	}

	all, err := s.ListTasks(ctx, task.ListOpts{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "bravo" {
		t.Fatalf("ListTasks order wrong: %v", names(all))
	}
	enabled, err := s.ListTasks(ctx, task.ListOpts{EnabledOnly: true})
	if err != nil {
		t.Fatalf("ListTasks enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "alpha" {
		t.Fatalf("ListTasks enabled: %v", names(enabled))
	}
	page, err := s.ListTasks(ctx, task.ListOpts{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("ListTasks page: %v", err)
	}
	if len(page) != 1 || page[0].Name != "bravo" {
		t.Fatalf("ListTasks page: %v", names(page))
	}

	got.Schedule = "@hourly"
	got.Priority = 9
	got.Enabled = false
	if err := s.UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	updated, _ := s.GetTask(ctx, a.ID)
	if updated.Schedule != "@hourly" || updated.Priority != 9 || updated.Enabled {
		t.Errorf("UpdateTask not persisted: %+v", updated)
	}

	got.Name = "bravo"
	if err := s.UpdateTask(ctx, got); !errors.Is(err, periodic.ErrDuplicateTask) {
		t.Errorf("rename onto existing: expected ErrDuplicateTask, got %v", err)
	}

	if err := s.UpdateTask(ctx, NewTask("ghost", now)); !errors.Is(err, periodic.ErrTaskNotFound) {
		t.Errorf("UpdateTask missing: expected ErrTaskNotFound, got %v", err)
	}

	if err := s.DeleteTask(ctx, a.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := s.DeleteTask(ctx, a.ID); !errors.Is(err, periodic.ErrTaskNotFound) {
		t.Errorf("DeleteTask twice: expected ErrTaskNotFound, got %v", err)
	}
}

func testClaimDue(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	d := NewTask("due", now.Add(-time.Second))
	mustCreate(t, s, d)

	c, err := s.FindNextDue(ctx, now, "sched-a", time.Minute)
	if err != nil {
		t.Fatalf("FindNextDue: %v", err)
	}
	if c == nil || c.Task.ID != d.ID {
		t.Fatalf("expected claim on %s, got %+v", d.ID, c)
	}
	if c.Token == "" || c.LockTTL != time.Minute || !c.ClaimedAt.Equal(now) {
		t.Errorf("claim fields: %+v", c)
	}
	if c.Task.TaskType != d.TaskType || string(c.Task.Args) != string(d.Args) {
		t.Errorf("claim snapshot missing payload: %+v", c.Task)
	}

	stored, _ := s.GetTask(ctx, d.ID)
	if stored.LockedBy != c.Token {
		t.Errorf("LockedBy = %q, want %q", stored.LockedBy, c.Token)
	}
	if stored.LockedUntil == nil || !stored.LockedUntil.Equal(now.Add(time.Minute)) {
		t.Errorf("LockedUntil = %v, want %v", stored.LockedUntil, now.Add(time.Minute))
	}

	mustNotClaim(t, s, now)
}

func testClaimOrdering(t *testing.T, s store.Store) {
	now := Now()

	late := NewTask("late", now.Add(-time.Second))
	early := NewTask("early", now.Add(-time.Minute))
	tieA := NewTask("tie-a", now.Add(-30*time.Second))
	tieB := NewTask("tie-b", now.Add(-30*time.Second))
	// IDs are time-ordered, so tieA < tieB lexically.
	for _, d := range []*task.Definition{late, tieB, early, tieA} {
		mustCreate(t, s, d)
	}

	want := []string{"early", "tie-a", "tie-b", "late"}
	for _, w := range want {
		c := mustClaim(t, s, now)
		if c.Task.Name != w {
			t.Fatalf("claim order: got %q, want %q", c.Task.Name, w)
		}
	}
	mustNotClaim(t, s, now)
}

func testClaimSkipsIneligible(t *testing.T, s store.Store) {
	now := Now()

	disabled := NewTask("disabled", now.Add(-time.Minute))
	disabled.Enabled = false
	invalid := NewTask("invalid", now.Add(-time.Minute))
	invalid.ScheduleError = "bad expression"
	future := NewTask("future", now.Add(time.Minute))
	unscheduled := NewTask("unscheduled", now)
	unscheduled.NextDueAt = nil

	for _, d := range []*task.Definition{disabled, invalid, future, unscheduled} {
		mustCreate(t, s, d)
	}
	mustNotClaim(t, s, now)

	c := mustClaim(t, s, now.Add(time.Minute))
	if c.Task.Name != "future" {
		t.Fatalf("expected future to become due, got %q", c.Task.Name)
	}
}

func testConcurrentClaim(t *testing.T, s store.Store) {
	now := Now()
	mustCreate(t, s, NewTask("contended", now.Add(-time.Second)))

	const racers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
		errs   []error
	)
	start := make(chan struct{})
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c, err := s.FindNextDue(context.Background(), now, fmt.Sprintf("sched-%d", i), time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if c != nil {
				claims++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("FindNextDue errors: %v", errs)
	}
	if claims != 1 {
		t.Fatalf("expected exactly 1 claim, got %d", claims)
	}
}

func testInFlight(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	d := NewTask("exclusive", now)
	mustCreate(t, s, d)

	c := mustClaim(t, s, now)
	jobID := id.NewJobID()
	next := now.Add(time.Minute)
	if err := s.MarkSubmitted(ctx, c, task.Submission{JobID: jobID, SubmittedAt: now, NextDueAt: &next}); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}

	stored, _ := s.GetTask(ctx, d.ID)
	if stored.LastSubmittedAt == nil || !stored.LastSubmittedAt.Equal(now) {
		t.Errorf("LastSubmittedAt = %v, want %v", stored.LastSubmittedAt, now)
	}
	if stored.NextDueAt == nil || !stored.NextDueAt.Equal(next) {
		t.Errorf("NextDueAt = %v, want %v", stored.NextDueAt, next)
	}
	if stored.InFlightJobID != jobID || stored.LockedBy != c.Token {
		t.Errorf("in-flight marker not kept: job=%q locked_by=%q", stored.InFlightJobID, stored.LockedBy)
	}

	// Due again, but the previous job has not finished.
	mustNotClaim(t, s, next)

	wake, err := s.PeekNextWake(ctx, next)
	if err != nil {
		t.Fatalf("PeekNextWake: %v", err)
	}
	if wake == nil || !wake.Equal(now.Add(c.LockTTL)) {
		t.Errorf("PeekNextWake while held = %v, want lock expiry %v", wake, now.Add(c.LockTTL))
	}

	if err := s.MarkCompleted(ctx, d.ID, id.NewJobID()); err != nil {
		t.Fatalf("MarkCompleted other job: %v", err)
	}
	mustNotClaim(t, s, next)

	if err := s.MarkCompleted(ctx, d.ID, jobID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	c2 := mustClaim(t, s, next)
	if c2.Task.ID != d.ID {
		t.Fatalf("expected %s claimable after completion", d.ID)
	}

	if err := s.MarkCompleted(ctx, id.NewTaskID(), jobID); !errors.Is(err, periodic.ErrTaskNotFound) {
		t.Errorf("MarkCompleted missing task: expected ErrTaskNotFound, got %v", err)
	}
}

func testOverlapAllowed(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	d := NewTask("overlapping", now)
	d.AllowOverlap = true
	mustCreate(t, s, d)

	c := mustClaim(t, s, now)
	next := now.Add(time.Minute)
	if err := s.MarkSubmitted(ctx, c, task.Submission{JobID: id.NewJobID(), SubmittedAt: now, NextDueAt: &next}); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}

	stored, _ := s.GetTask(ctx, d.ID)
	if stored.LockedBy != "" || stored.LockedUntil != nil || !stored.InFlightJobID.IsNil() {
		t.Errorf("lock not cleared for overlap-allowed task: %+v", stored)
	}
	mustNotClaim(t, s, now)
	mustClaim(t, s, next)
}

func testRelease(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	d := NewTask("flaky-queue", now)
	mustCreate(t, s, d)

	c := mustClaim(t, s, now)
	if err := s.Release(ctx, c); err != nil {
		t.Fatalf("Release: %v", err)
	}

	stored, _ := s.GetTask(ctx, d.ID)
	if stored.NextDueAt == nil || !stored.NextDueAt.Equal(now) {
		t.Errorf("Release moved NextDueAt to %v", stored.NextDueAt)
	}
	if stored.LastSubmittedAt != nil {
		t.Errorf("Release set LastSubmittedAt")
	}

	c2 := mustClaim(t, s, now)
	if err := s.Release(ctx, c); !errors.Is(err, periodic.ErrClaimLost) {
		t.Errorf("Release with old token: expected ErrClaimLost, got %v", err)
	}
	if err := s.Release(ctx, c2); err != nil {
		t.Errorf("Release current claim: %v", err)
	}
}

func testStaleClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	d := NewTask("crashed-owner", now)
	mustCreate(t, s, d)

	stale, err := s.FindNextDue(ctx, now, "crashed", 10*time.Second)
	if err != nil || stale == nil {
		t.Fatalf("FindNextDue: %v %v", stale, err)
	}

	mustNotClaim(t, s, now.Add(10*time.Second))

	later := now.Add(11 * time.Second)
	fresh := mustClaim(t, s, later)
	if fresh.Token == stale.Token {
		t.Fatal("reclaim reused the stale token")
	}

	next := later.Add(time.Minute)
	err = s.MarkSubmitted(ctx, stale, task.Submission{JobID: id.NewJobID(), SubmittedAt: later, NextDueAt: &next})
	if !errors.Is(err, periodic.ErrClaimLost) {
		t.Fatalf("MarkSubmitted with stale token: expected ErrClaimLost, got %v", err)
	}
	if err := s.MarkSubmitted(ctx, fresh, task.Submission{JobID: id.NewJobID(), SubmittedAt: later, NextDueAt: &next}); err != nil {
		t.Fatalf("MarkSubmitted with fresh token: %v", err)
	}
}

func testMarkInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	d := NewTask("broken", now)
	mustCreate(t, s, d)

	c := mustClaim(t, s, now)
	if err := s.MarkInvalid(ctx, c, "periodic: invalid schedule"); err != nil {
		t.Fatalf("MarkInvalid: %v", err)
	}

	stored, _ := s.GetTask(ctx, d.ID)
	if stored.ScheduleError == "" || stored.NextDueAt != nil || stored.LockedBy != "" {
		t.Errorf("MarkInvalid state: %+v", stored)
	}
	mustNotClaim(t, s, now.Add(time.Hour))

	wake, err := s.PeekNextWake(ctx, now)
	if err != nil {
		t.Fatalf("PeekNextWake: %v", err)
	}
	if wake != nil {
		t.Errorf("PeekNextWake = %v, want nil for invalid task", wake)
	}
}

func testPeekNextWake(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()

	wake, err := s.PeekNextWake(ctx, now)
	if err != nil {
		t.Fatalf("PeekNextWake empty: %v", err)
	}
	if wake != nil {
		t.Fatalf("PeekNextWake empty = %v, want nil", wake)
	}

	disabled := NewTask("disabled", now.Add(time.Second))
	disabled.Enabled = false
	mustCreate(t, s, disabled)
	mustCreate(t, s, NewTask("later", now.Add(time.Hour)))
	mustCreate(t, s, NewTask("sooner", now.Add(time.Minute)))

	wake, err = s.PeekNextWake(ctx, now)
	if err != nil {
		t.Fatalf("PeekNextWake: %v", err)
	}
	if wake == nil || !wake.Equal(now.Add(time.Minute)) {
		t.Fatalf("PeekNextWake = %v, want %v", wake, now.Add(time.Minute))
	}

	mustCreate(t, s, NewTask("overdue", now.Add(-time.Hour)))
	wake, _ = s.PeekNextWake(ctx, now)
	if wake == nil || !wake.Equal(now.Add(-time.Hour)) {
		t.Fatalf("PeekNextWake with overdue = %v, want %v", wake, now.Add(-time.Hour))
	}
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

func newJob(taskType, queue string, priority int, runAt time.Time) *job.Job {
	return job.New(taskType, []byte(`{}`),
		job.WithQueue(queue),
		job.WithPriority(priority),
		job.WithRunAt(runAt),
	)
}

func testJobQueue(t *testing.T, s store.Store) {
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	low := newJob("low", "default", 0, past)
	high := newJob("high", "default", 10, past.Add(time.Second))
	older := newJob("older", "default", 0, past.Add(-time.Second))
	other := newJob("other-queue", "critical", 100, past)
	future := newJob("future", "default", 100, time.Now().UTC().Add(time.Hour))
	for _, j := range []*job.Job{low, high, older, other, future} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.TaskType, err)
		}
	}
	if err := s.EnqueueJob(ctx, low); !errors.Is(err, periodic.ErrJobAlreadyExists) {
		t.Errorf("duplicate enqueue: expected ErrJobAlreadyExists, got %v", err)
	}

	got, err := s.DequeueJobs(ctx, []string{"default"}, "worker-1", 2)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(got) != 2 || got[0].TaskType != "high" || got[1].TaskType != "older" {
		t.Fatalf("dequeue order: %v", jobTypes(got))
	}
	for _, j := range got {
		if j.State != job.StateRunning || j.WorkerID != "worker-1" || j.StartedAt == nil {
			t.Errorf("dequeued job not running: %+v", j)
		}
	}

	rest, err := s.DequeueJobs(ctx, []string{"default"}, "worker-2", 10)
	if err != nil {
		t.Fatalf("DequeueJobs rest: %v", err)
	}
	if len(rest) != 1 || rest[0].TaskType != "low" {
		t.Fatalf("remaining dequeue: %v", jobTypes(rest))
	}

	none, err := s.DequeueJobs(ctx, []string{"default"}, "worker-2", 10)
	if err != nil {
		t.Fatalf("DequeueJobs empty: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no ready jobs, got %v", jobTypes(none))
	}

	count, err := s.CountJobs(ctx, job.CountOpts{State: job.StatePending})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 2 {
		t.Errorf("pending count = %d, want 2", count)
	}
}

func testJobLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	taskID := id.NewTaskID()
	j := job.New("report", []byte(`{"day":1}`), job.WithTaskID(taskID), job.WithRunAt(time.Now().UTC().Add(-time.Second)))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.TaskID != taskID || string(got.Args) != `{"day":1}` || got.State != job.StatePending {
		t.Errorf("GetJob: %+v", got)
	}
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, periodic.ErrJobNotFound) {
		t.Errorf("GetJob missing: expected ErrJobNotFound, got %v", err)
	}

	running, err := s.DequeueJobs(ctx, nil, "worker-1", 1)
	if err != nil || len(running) != 1 {
		t.Fatalf("DequeueJobs: %v %v", running, err)
	}
	if err := s.HeartbeatJob(ctx, j.ID, "worker-1"); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}

	stale, err := s.ReapStaleJobs(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("fresh heartbeat reported stale")
	}

	old := time.Now().UTC().Add(-2 * time.Hour)
	r := running[0]
	r.HeartbeatAt = &old
	if err := s.UpdateJob(ctx, r); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	stale, err = s.ReapStaleJobs(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != j.ID {
		t.Fatalf("expected %s stale, got %v", j.ID, stale)
	}

	done := time.Now().UTC()
	r.State = job.StateCompleted
	r.CompletedAt = &done
	if err := s.UpdateJob(ctx, r); err != nil {
		t.Fatalf("UpdateJob completed: %v", err)
	}
	list, err := s.ListJobsByState(ctx, job.StateCompleted, job.ListOpts{TaskID: taskID})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if len(list) != 1 || list[0].ID != j.ID {
		t.Fatalf("ListJobsByState: %v", list)
	}
	other, _ := s.ListJobsByState(ctx, job.StateCompleted, job.ListOpts{TaskID: id.NewTaskID()})
	if len(other) != 0 {
		t.Errorf("TaskID filter ignored: %v", other)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, periodic.ErrJobNotFound) {
		t.Errorf("DeleteJob twice: expected ErrJobNotFound, got %v", err)
	}
	if err := s.UpdateJob(ctx, r); !errors.Is(err, periodic.ErrJobNotFound) {
		t.Errorf("UpdateJob deleted: expected ErrJobNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Cluster store
// ──────────────────────────────────────────────────

func testCluster(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	live := &cluster.Instance{
		ID: id.NewInstanceID(), Hostname: "a", Address: "http://a:8080",
		Queues: []string{"default"}, Concurrency: 4, State: cluster.InstanceActive,
		LastSeen: now, CreatedAt: now,
	}
	dead := &cluster.Instance{
		ID: id.NewInstanceID(), Hostname: "b", Address: "http://b:8080",
		State: cluster.InstanceActive, LastSeen: now.Add(-time.Hour), CreatedAt: now,
	}
	for _, inst := range []*cluster.Instance{live, dead} {
		if err := s.RegisterInstance(ctx, inst); err != nil {
			t.Fatalf("RegisterInstance: %v", err)
		}
	}

	list, err := s.ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListInstances = %d, want 2", len(list))
	}

	if err := s.HeartbeatInstance(ctx, live.ID, cluster.InstanceDraining); err != nil {
		t.Fatalf("HeartbeatInstance: %v", err)
	}
	if err := s.HeartbeatInstance(ctx, id.NewInstanceID(), cluster.InstanceActive); !errors.Is(err, periodic.ErrInstanceNotFound) {
		t.Errorf("HeartbeatInstance missing: expected ErrInstanceNotFound, got %v", err)
	}

	reaped, err := s.ReapDeadInstances(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapDeadInstances: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != dead.ID {
		t.Fatalf("ReapDeadInstances = %v, want [%s]", reaped, dead.ID)
	}

	list, _ = s.ListInstances(ctx)
	if len(list) != 1 || list[0].State != cluster.InstanceDraining || list[0].Address != live.Address {
		t.Fatalf("after reap: %+v", list)
	}

	if err := s.DeregisterInstance(ctx, live.ID); err != nil {
		t.Fatalf("DeregisterInstance: %v", err)
	}
	list, _ = s.ListInstances(ctx)
	if len(list) != 0 {
		t.Errorf("DeregisterInstance left %d instances", len(list))
	}
}

func names(ds []*task.Definition) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

func jobTypes(js []*job.Job) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.TaskType
	}
	return out
}
