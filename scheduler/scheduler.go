package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/backoff"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/schedule"
	"github.com/xraph/periodic/task"
)

// SubmitFunc enqueues a job record and returns its ID. The engine provides
// the implementation, which keeps this package free of queue wiring.
type SubmitFunc func(ctx context.Context, j *job.Job) (id.JobID, error)

// Emitter emits scheduler lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitTaskSubmitted(ctx context.Context, d *task.Definition, jobID id.JobID)
	EmitTaskReleased(ctx context.Context, d *task.Definition, cause error)
	EmitTaskInvalid(ctx context.Context, d *task.Definition, reason string)
	EmitStoreError(ctx context.Context, op string, err error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// errShutdownObserved is the release cause when shutdown is seen between a
// claim and its submission.
var errShutdownObserved = errors.New("scheduler: shutdown observed before submit")

// Scheduler turns due periodic task definitions into job submissions.
type Scheduler struct {
	store   task.Store
	submit  SubmitFunc
	emitter Emitter
	owner   string
	logger  *slog.Logger
	cfg     periodic.Config
	cache   *schedule.Cache
	now     func() time.Time

	wake     *WakeCycle
	run      *RunState
	failures *backoff.Tracker
	state    atomic.Int32

	startMu sync.Mutex
	handle  *Handle
}

// New creates a Scheduler reading definitions from store and submitting
// jobs through submit.
func New(store task.Store, submit SubmitFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		submit: submit,
		owner:  id.NewInstanceID().String(),
		logger: slog.Default(),
		cfg:    periodic.DefaultConfig(),
		cache:  schedule.NewCache(),
		now:    func() time.Time { return time.Now().UTC() },
		wake:   NewWakeCycle(),
		run:    newRunState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.failures = backoff.NewTracker(backoff.NewExponential(s.cfg.BackoffInitial, s.cfg.MaxPollInterval))
	return s
}

// Start verifies the store is reachable and launches the background loop.
// A store that cannot be reached is the only fatal scheduler error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	switch s.State() {
	case StateIdle:
	case StateStopped:
		return periodic.ErrSchedulerStopped
	default:
		return periodic.ErrSchedulerStarted
	}

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %w", periodic.ErrStoreUnavailable, err)
		}
	}

	s.handle = newHandle(s)
	s.state.Store(int32(StateRunning))
	go s.loop(context.WithoutCancel(ctx), s.handle)

	s.logger.Info("periodic scheduler started",
		slog.String("owner", s.owner),
		slog.Duration("max_poll_interval", s.cfg.MaxPollInterval),
		slog.Duration("claim_lock_timeout", s.cfg.ClaimLockTimeout),
	)
	return nil
}

// NotifyChange asks the loop to re-evaluate immediately. It never blocks,
// and calls made while a wake is already pending coalesce into one.
func (s *Scheduler) NotifyChange() {
	s.wake.Notify()
}

// Shutdown stops the loop after its current iteration and waits for it to
// exit. It is idempotent. It returns ctx.Err() only if ctx ends before the
// loop does; the loop still stops on its own.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.startMu.Lock()
	s.run.requestShutdown()
	s.wake.Stop()
	h := s.handle
	if h == nil {
		s.state.Store(int32(StateStopped))
	} else {
		s.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown))
	}
	s.startMu.Unlock()

	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Awake returns the handle to the running loop, or nil before Start.
func (s *Scheduler) Awake() *Handle {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.handle
}

// Config returns the current configuration.
func (s *Scheduler) Config() periodic.Config { return s.cfg }

// State returns the lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Owner returns the owner name used in claim tokens.
func (s *Scheduler) Owner() string { return s.owner }

// RunState returns the in-memory run state.
func (s *Scheduler) RunState() *RunState { return s.run }

// ConsecutiveFailures returns the number of store or submission failures
// since the last successful iteration.
func (s *Scheduler) ConsecutiveFailures() int { return s.failures.Failures() }

// OnTaskCompleted is called once a task's in-flight marker has been cleared
// in the store. It drops the local marker, triggers a re-check, and reports
// whether this process had submitted the task.
func (s *Scheduler) OnTaskCompleted(taskID id.TaskID) bool {
	local := s.run.removeMarker(taskID)
	s.NotifyChange()
	return local
}

// ──────────────────────────────────────────────────
// Loop
// ──────────────────────────────────────────────────

func (s *Scheduler) loop(ctx context.Context, h *Handle) {
	defer func() {
		s.state.Store(int32(StateStopped))
		close(h.done)
		s.logger.Info("periodic scheduler stopped", slog.String("owner", s.owner))
	}()

	for {
		if s.run.ShutdownRequested() {
			return
		}

		delay := s.safeIterate(ctx)
		s.run.recordWait(s.now(), delay)

		reason := s.wake.Wait(delay)
		s.run.recordWake(reason)
		if reason == WakeShutdown {
			return
		}
	}
}

// safeIterate runs one iteration, converting a panic into a failure delay.
func (s *Scheduler) safeIterate(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			delay = s.storeFailure(ctx, "iterate", fmt.Errorf("panic: %v", r))
		}
	}()
	return s.iterate(ctx)
}

func (s *Scheduler) iterate(ctx context.Context) time.Duration {
	now := s.now()
	s.run.pruneMarkers(now, s.cfg.ClaimLockTimeout)

	claim, err := s.store.FindNextDue(ctx, now, s.owner, s.cfg.ClaimLockTimeout)
	if err != nil {
		return s.storeFailure(ctx, "find_next_due", err)
	}
	if claim != nil {
		if err := s.process(ctx, claim); err != nil {
			var opErr *storeOpError
			if errors.As(err, &opErr) {
				return s.storeFailure(ctx, opErr.op, opErr.err)
			}
			return s.submitFailure(err)
		}
		s.storeSuccess()
		return 0
	}

	next, err := s.store.PeekNextWake(ctx, now)
	if err != nil {
		return s.storeFailure(ctx, "peek_next_wake", err)
	}
	s.storeSuccess()
	return nextDelay(now, next, s.cfg.MaxPollInterval)
}

// process submits one claim. Every path ends in exactly one of
// MarkSubmitted, Release or MarkInvalid. It returns the submission error
// when the queue rejected the job, or a *storeOpError when the submission
// could not be recorded.
func (s *Scheduler) process(ctx context.Context, claim *task.Claim) error {
	def := claim.Task

	sched, err := s.cache.Get(def.Schedule, def.Timezone)
	if err != nil {
		s.invalidate(ctx, claim, err.Error())
		return nil
	}

	if s.run.ShutdownRequested() {
		s.release(ctx, claim, errShutdownObserved)
		return nil
	}

	record := job.New(def.TaskType, def.Args,
		job.WithQueue(def.Queue),
		job.WithPriority(def.Priority),
		job.WithTaskID(def.ID),
	)
	jobID, err := s.submit(ctx, record)
	if err != nil {
		s.logger.Error("periodic: submit failed",
			slog.String("task_id", def.ID.String()),
			slog.String("task_name", def.Name),
			slog.String("error", err.Error()),
		)
		s.release(ctx, claim, err)
		return err
	}

	submittedAt := s.now()
	sub := task.Submission{JobID: jobID, SubmittedAt: submittedAt}
	if next := sched.Next(submittedAt); !next.IsZero() {
		sub.NextDueAt = &next
	}

	if !def.AllowOverlap {
		s.run.addMarker(def.ID, submittedAt)
	}

	if err := s.markSubmitted(ctx, claim, sub); err != nil {
		if claimGone(err) {
			s.run.removeMarker(def.ID)
			s.logger.Warn("periodic: mark submitted failed",
				slog.String("task_id", def.ID.String()),
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		// The job is queued, so the local marker stays until it is pruned.
		s.logger.Error("periodic: mark submitted failed",
			slog.String("task_id", def.ID.String()),
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return &storeOpError{op: "mark_submitted", err: err}
	}

	if s.emitter != nil {
		s.emitter.EmitTaskSubmitted(ctx, def, jobID)
	}
	attrs := []any{
		slog.String("task_id", def.ID.String()),
		slog.String("task_name", def.Name),
		slog.String("job_id", jobID.String()),
	}
	if sub.NextDueAt != nil {
		attrs = append(attrs, slog.Time("next_due_at", *sub.NextDueAt))
	}
	s.logger.Info("periodic task submitted", attrs...)
	return nil
}

// markSubmitted records sub, retrying transient store errors until the
// claim would expire. Once the job is queued, giving up early lets the lock
// lapse and the same occurrence be claimed again.
func (s *Scheduler) markSubmitted(ctx context.Context, claim *task.Claim, sub task.Submission) error {
	claimedAt := claim.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = sub.SubmittedAt
	}
	deadline := claimedAt.Add(claim.LockTTL)
	retry := backoff.NewExponential(s.cfg.BackoffInitial, s.cfg.MaxPollInterval)

	for attempt := 1; ; attempt++ {
		err := s.store.MarkSubmitted(ctx, claim, sub)
		if err == nil || claimGone(err) {
			return err
		}

		delay := retry.Delay(attempt)
		if s.run.ShutdownRequested() || s.now().Add(delay).After(deadline) {
			return err
		}
		s.logger.Warn("periodic: mark submitted failed, retrying",
			slog.String("task_id", claim.Task.ID.String()),
			slog.String("job_id", sub.JobID.String()),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		if !s.wake.pause(delay) {
			return err
		}
	}
}

// claimGone reports whether err means the claim can no longer be recorded.
func claimGone(err error) bool {
	return errors.Is(err, periodic.ErrClaimLost) || errors.Is(err, periodic.ErrTaskNotFound)
}

// storeOpError marks a store failure raised while processing a claim.
type storeOpError struct {
	op  string
	err error
}

func (e *storeOpError) Error() string { return e.op + ": " + e.err.Error() }
func (e *storeOpError) Unwrap() error { return e.err }

func (s *Scheduler) release(ctx context.Context, claim *task.Claim, cause error) {
	if err := s.store.Release(ctx, claim); err != nil {
		s.logger.Error("periodic: release failed",
			slog.String("task_id", claim.Task.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if s.emitter != nil {
		s.emitter.EmitTaskReleased(ctx, claim.Task, cause)
	}
}

func (s *Scheduler) invalidate(ctx context.Context, claim *task.Claim, reason string) {
	s.logger.Warn("periodic: task schedule invalid",
		slog.String("task_id", claim.Task.ID.String()),
		slog.String("task_name", claim.Task.Name),
		slog.String("schedule", claim.Task.Schedule),
		slog.String("error", reason),
	)
	if err := s.store.MarkInvalid(ctx, claim, reason); err != nil {
		s.logger.Error("periodic: mark invalid failed",
			slog.String("task_id", claim.Task.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if s.emitter != nil {
		s.emitter.EmitTaskInvalid(ctx, claim.Task, reason)
	}
}

func (s *Scheduler) storeSuccess() {
	s.failures.Success()
	s.run.recordError(nil)
}

// submitFailure backs off after a rejected submission so a queue outage
// does not turn release and re-claim into a busy loop.
func (s *Scheduler) submitFailure(err error) time.Duration {
	if s.run.ShutdownRequested() {
		return 0
	}
	s.run.recordError(err)
	return s.nextBackoff()
}

func (s *Scheduler) nextBackoff() time.Duration {
	delay := s.failures.Failure()
	if delay > s.cfg.MaxPollInterval {
		delay = s.cfg.MaxPollInterval
	}
	return delay
}

// storeFailure logs err and returns the backoff delay. Errors raised once
// shutdown is requested are discarded.
func (s *Scheduler) storeFailure(ctx context.Context, op string, err error) time.Duration {
	if s.run.ShutdownRequested() {
		s.logger.Debug("periodic: store error during shutdown",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return 0
	}

	delay := s.nextBackoff()
	s.run.recordError(err)
	s.logger.Warn("periodic: store error",
		slog.String("op", op),
		slog.Int("consecutive_failures", s.failures.Failures()),
		slog.Duration("retry_in", delay),
		slog.String("error", err.Error()),
	)
	if s.emitter != nil {
		s.emitter.EmitStoreError(ctx, op, err)
	}
	return delay
}
