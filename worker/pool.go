package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/periodic/ext"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
)

// QueueManager gates job starts. queue.Manager satisfies it.
type QueueManager interface {
	Acquire(queue, taskType string) bool
	Release(queue, taskType string)
}

// Pool runs worker goroutines that dequeue and execute jobs.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	logger       *slog.Logger
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     string

	heartbeatInterval time.Duration
	staleJobThreshold time.Duration
	queueManager      QueueManager

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	activeMu sync.Mutex
	active   map[id.JobID]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues to poll. Empty polls every queue.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle worker sleeps between polls.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often running jobs heartbeat. Zero
// disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets how long a running job may go without a
// heartbeat before it is requeued. Zero disables the reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithQueueManager sets per-queue and per-type limits.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithWorkerID sets the worker identity recorded on dequeued jobs. It
// defaults to a fresh instance ID.
func WithWorkerID(workerID string) PoolOption {
	return func(p *Pool) {
		if workerID != "" {
			p.workerID = workerID
		}
	}
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, extensions *ext.Registry, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		logger:       logger,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		workerID:     id.NewInstanceID().String(),
		stopCh:       make(chan struct{}),
		active:       make(map[id.JobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the identity recorded on dequeued jobs.
func (p *Pool) WorkerID() string { return p.workerID }

// ActiveJobs returns the number of jobs currently executing.
func (p *Pool) ActiveJobs() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Start launches the workers and returns. Calling it again is a no-op.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.work()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.every(p.heartbeatInterval, p.heartbeat)
	}
	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.every(p.staleJobThreshold, p.reap)
	}
	return nil
}

// Stop signals the workers and waits for running jobs to finish. When ctx
// ends first, running jobs are cancelled and Stop waits for them to
// record their outcome.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", slog.String("worker_id", p.workerID))
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out, cancelling active jobs",
			slog.Int("active", p.ActiveJobs()),
		)
		p.cancelActive()
		<-done
	}
	return nil
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobs, err := p.store.DequeueJobs(context.Background(), p.queues, p.workerID, 1)
		if err != nil {
			p.logger.Error("periodic: dequeue failed", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			p.sleep()
			continue
		}
		p.run(jobs[0])
	}
}

func (p *Pool) run(j *job.Job) {
	if p.queueManager != nil {
		if !p.queueManager.Acquire(j.Queue, j.TaskType) {
			p.requeue(j)
			p.sleep()
			return
		}
		defer p.queueManager.Release(j.Queue, j.TaskType)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.track(j.ID, cancel)
	defer p.untrack(j.ID)

	p.extensions.EmitJobStarted(ctx, j)
	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution returned error",
			slog.String("job_id", j.ID.String()),
			slog.String("task_type", j.TaskType),
			slog.String("error", err.Error()),
		)
	}
}

// requeue hands a rate-limited job back to the queue for a later poll.
func (p *Pool) requeue(j *job.Job) {
	j.State = job.StatePending
	j.RunAt = time.Now().UTC().Add(p.pollInterval)
	j.WorkerID = ""
	j.StartedAt = nil
	j.HeartbeatAt = nil
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("periodic: requeue rate-limited job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) every(interval time.Duration, fn func()) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (p *Pool) heartbeat() {
	p.activeMu.Lock()
	ids := make([]id.JobID, 0, len(p.active))
	for jobID := range p.active {
		ids = append(ids, jobID)
	}
	p.activeMu.Unlock()

	for _, jobID := range ids {
		if err := p.store.HeartbeatJob(context.Background(), jobID, p.workerID); err != nil {
			p.logger.Warn("periodic: job heartbeat failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reap requeues running jobs whose worker stopped heartbeating. The retry
// count is left alone: the job never reported an outcome.
func (p *Pool) reap() {
	stale, err := p.store.ReapStaleJobs(context.Background(), p.staleJobThreshold)
	if err != nil {
		p.logger.Error("periodic: reap stale jobs failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		lost := j.WorkerID
		j.State = job.StatePending
		j.RunAt = time.Now().UTC()
		j.WorkerID = ""
		j.StartedAt = nil
		j.HeartbeatAt = nil

		if err := p.store.UpdateJob(context.Background(), j); err != nil {
			p.logger.Error("periodic: requeue stale job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("requeued stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("task_type", j.TaskType),
			slog.String("lost_worker", lost),
		)
	}
}

func (p *Pool) sleep() {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}

func (p *Pool) track(jobID id.JobID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID.String()))
		cancel()
	}
}
