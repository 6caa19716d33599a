package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/backoff"
	"github.com/xraph/periodic/ext"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/middleware"
)

// Executor runs a single job and persists its outcome.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor. Middleware are applied in order, the
// first outermost.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs j and records the result. It returns the handler error, or
// the store error if the outcome could not be persisted.
//
// A job whose task type has no handler fails immediately without retries.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	// Outcomes are persisted even when the pool cancels a running job.
	persistCtx := context.WithoutCancel(ctx)

	handler, ok := e.registry.Get(j.TaskType)
	if !ok {
		err := fmt.Errorf("%w: %q", periodic.ErrNoHandler, j.TaskType)
		j.LastError = err.Error()
		return e.fail(persistCtx, j, err, time.Now().UTC())
	}

	start := time.Now()
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return handler(ctx, j.Args)
	})
	elapsed := time.Since(start)
	now := time.Now().UTC()

	if err != nil {
		j.RetryCount++
		j.LastError = err.Error()
		if j.RetryCount <= j.MaxRetries {
			return e.retry(persistCtx, j, err, now)
		}
		return e.fail(persistCtx, j, err, now)
	}
	return e.complete(persistCtx, j, now, elapsed)
}

func (e *Executor) complete(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("periodic: update completed job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

func (e *Executor) retry(ctx context.Context, j *job.Job, cause error, now time.Time) error {
	delay := e.backoff.Delay(j.RetryCount)
	j.State = job.StateRetrying
	j.RunAt = now.Add(delay)
	j.WorkerID = ""
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("periodic: update retrying job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, j.RunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("task_type", j.TaskType),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
	return cause
}

func (e *Executor) fail(ctx context.Context, j *job.Job, cause error, now time.Time) error {
	j.State = job.StateFailed
	j.CompletedAt = &now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("periodic: update failed job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.extensions.EmitJobFailed(ctx, j, cause)

	e.logger.Warn("job failed permanently",
		slog.String("job_id", j.ID.String()),
		slog.String("task_type", j.TaskType),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", cause.Error()),
	)
	return cause
}
