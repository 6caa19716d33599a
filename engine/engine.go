package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/backoff"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/ext"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	mw "github.com/xraph/periodic/middleware"
	"github.com/xraph/periodic/notify"
	"github.com/xraph/periodic/observability"
	"github.com/xraph/periodic/queue"
	"github.com/xraph/periodic/schedule"
	"github.com/xraph/periodic/scheduler"
	"github.com/xraph/periodic/store"
	"github.com/xraph/periodic/worker"
)

const instrumentationName = "github.com/xraph/periodic"

// broadcastTimeout bounds one asynchronous wake broadcast.
const broadcastTimeout = 5 * time.Second

// Engine owns one scheduler process: its scheduler loop, worker pool, peer
// registration and wake listeners.
type Engine struct {
	store      store.Store
	cfg        periodic.Config
	logger     *slog.Logger
	instanceID id.InstanceID
	address    string

	extensions *ext.Registry
	pending    []ext.Extension
	registry   *job.Registry
	cache      *schedule.Cache
	bo         backoff.Strategy
	mws        []mw.Middleware

	queueConfigs []queue.Config
	queueManager *queue.Manager

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	scheduler *scheduler.Scheduler
	pool      *worker.Pool
	peers     *cluster.Registry
	notifier  notify.Client
	listeners []notify.Listener

	mu            sync.Mutex
	started       bool
	stopped       bool
	closing       atomic.Bool
	stopListeners context.CancelFunc
	background    sync.WaitGroup
	async         sync.WaitGroup
}

// Build creates an Engine. WithStore is required.
func Build(opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:        periodic.DefaultConfig(),
		logger:     slog.Default(),
		instanceID: id.NewInstanceID(),
		registry:   job.NewRegistry(),
		cache:      schedule.NewCache(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		return nil, periodic.ErrNoStore
	}
	if err := eng.cfg.Validate(); err != nil {
		return nil, err
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	logger := eng.logger
	owner := eng.instanceID.String()

	eng.extensions = ext.NewRegistry(logger)
	eng.extensions.Register(&completionHook{eng: eng})
	eng.extensions.Register(eng.metricsExtension())
	for _, e := range eng.pending {
		eng.extensions.Register(e)
	}

	// Default middleware stack: recover → tracing → metrics → logging → context → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		eng.tracingMiddleware(),
		eng.metricsMiddleware(),
		mw.Logging(logger),
		mw.Context(),
		mw.Timeout(),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.store, eng.bo, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithPoolQueues(eng.cfg.Queues),
		worker.WithPollInterval(eng.cfg.PollInterval),
		worker.WithHeartbeatInterval(eng.cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(eng.cfg.StaleJobThreshold),
		worker.WithWorkerID(owner),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(eng.store, executor, eng.extensions, logger, poolOpts...)

	eng.scheduler = scheduler.New(eng.store, eng.submit,
		scheduler.WithConfig(eng.cfg),
		scheduler.WithLogger(logger),
		scheduler.WithEmitter(eng.extensions),
		scheduler.WithOwner(owner),
		scheduler.WithScheduleCache(eng.cache),
	)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	self := &cluster.Instance{
		ID:          eng.instanceID,
		Hostname:    hostname,
		Address:     eng.address,
		Queues:      eng.cfg.Queues,
		Concurrency: eng.cfg.Concurrency,
	}
	eng.peers = cluster.NewRegistry(eng.store, self, eng.cfg.HeartbeatInterval, eng.cfg.StaleJobThreshold, logger)

	return eng, nil
}

func (eng *Engine) tracingMiddleware() mw.Middleware {
	if eng.tracerProvider != nil {
		return mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	return mw.Tracing()
}

func (eng *Engine) metricsMiddleware() mw.Middleware {
	if eng.meterProvider != nil {
		return mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}
	return mw.Metrics()
}

func (eng *Engine) metricsExtension() *observability.MetricsExtension {
	if eng.meterProvider != nil {
		return observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	}
	return observability.NewMetricsExtension()
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

// Register registers a typed job handler with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals args to JSON and enqueues a one-off job.
func Enqueue[T any](ctx context.Context, eng *Engine, taskType string, args T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args for task type %q: %w", taskType, err)
	}
	return eng.EnqueueRaw(ctx, taskType, data, opts...)
}

// EnqueueRaw enqueues a one-off job with pre-serialized arguments. The
// handler's registered options apply first; opts override them.
func (eng *Engine) EnqueueRaw(ctx context.Context, taskType string, args []byte, opts ...job.Option) (*job.Job, error) {
	defaults := eng.registry.Options(taskType)
	all := append([]job.Option{
		job.WithMaxRetries(defaults.MaxRetries),
		job.WithQueue(defaults.Queue),
		job.WithPriority(defaults.Priority),
		job.WithTimeout(defaults.Timeout),
	}, opts...)

	j := job.New(taskType, args, all...)
	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// submit is the scheduler's SubmitFunc. Queue, priority and task ID come
// from the definition; retries and timeout from the registered handler.
func (eng *Engine) submit(ctx context.Context, j *job.Job) (id.JobID, error) {
	defaults := eng.registry.Options(j.TaskType)
	j.MaxRetries = defaults.MaxRetries
	j.Timeout = defaults.Timeout

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return id.Nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j.ID, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start registers the instance with its peers, starts the scheduler loop,
// the wake listeners and, when Concurrency > 0, the worker pool. Only an
// unreachable store is fatal.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.stopped {
		return periodic.ErrSchedulerStopped
	}
	if eng.started {
		return periodic.ErrSchedulerStarted
	}

	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", periodic.ErrStoreUnavailable, err)
	}

	if err := eng.peers.Start(ctx); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}

	if err := eng.scheduler.Start(ctx); err != nil {
		eng.stopPeers(ctx)
		return fmt.Errorf("start scheduler: %w", err)
	}

	if eng.cfg.Concurrency > 0 {
		if err := eng.pool.Start(ctx); err != nil {
			_ = eng.scheduler.Shutdown(ctx) //nolint:errcheck // best-effort rollback
			eng.stopPeers(ctx)
			return fmt.Errorf("start worker pool: %w", err)
		}
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	eng.stopListeners = cancel
	for _, l := range eng.listeners {
		eng.background.Add(1)
		go eng.listen(listenCtx, l)
	}

	eng.started = true
	eng.logger.Info("periodic engine started",
		slog.String("instance_id", eng.instanceID.String()),
		slog.String("address", eng.address),
		slog.Int("concurrency", eng.cfg.Concurrency),
		slog.Int("listeners", len(eng.listeners)),
	)
	return nil
}

func (eng *Engine) listen(ctx context.Context, l notify.Listener) {
	defer eng.background.Done()
	if err := l.Listen(ctx, eng.scheduler.NotifyChange); err != nil && ctx.Err() == nil {
		eng.logger.Error("periodic: wake listener stopped", slog.String("error", err.Error()))
	}
}

// Stop drains the instance, stops the scheduler loop, the listeners and the
// worker pool, and deregisters from the peer registry. Errors are logged;
// Stop returns ctx.Err() only if ctx ends before shutdown completes.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.stopped {
		return nil
	}
	eng.stopped = true
	eng.closing.Store(true)
	if !eng.started {
		return eng.scheduler.Shutdown(ctx)
	}

	eng.peers.Drain()

	var ctxErr error
	if err := eng.scheduler.Shutdown(ctx); err != nil {
		ctxErr = err
		eng.logger.Warn("periodic: scheduler shutdown incomplete", slog.String("error", err.Error()))
	}

	if eng.stopListeners != nil {
		eng.stopListeners()
	}
	eng.background.Wait()

	if eng.cfg.Concurrency > 0 {
		if err := eng.pool.Stop(ctx); err != nil {
			ctxErr = errors.Join(ctxErr, err)
			eng.logger.Warn("periodic: worker pool stop incomplete", slog.String("error", err.Error()))
		}
	}

	eng.async.Wait()
	if closer, ok := eng.notifier.(interface{ Close() }); ok {
		closer.Close()
	}

	eng.stopPeers(ctx)
	eng.extensions.EmitShutdown(ctx)

	eng.logger.Info("periodic engine stopped", slog.String("instance_id", eng.instanceID.String()))
	return ctxErr
}

func (eng *Engine) stopPeers(ctx context.Context) {
	if err := eng.peers.Stop(context.WithoutCancel(ctx)); err != nil {
		eng.logger.Warn("periodic: deregister instance failed", slog.String("error", err.Error()))
	}
}

// ──────────────────────────────────────────────────
// Wake
// ──────────────────────────────────────────────────

// Wake asks the local scheduler to re-check now. Transports call it when a
// peer broadcast arrives.
func (eng *Engine) Wake() { eng.scheduler.NotifyChange() }

// broadcast notifies peers asynchronously. Failures are logged only.
func (eng *Engine) broadcast() {
	if eng.notifier == nil || eng.closing.Load() {
		return
	}

	eng.async.Add(1)
	go func() {
		defer eng.async.Done()
		ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
		defer cancel()

		peers, err := eng.peers.Peers(ctx)
		if err != nil {
			eng.logger.Warn("periodic: list peers failed", slog.String("error", err.Error()))
		}
		if err := eng.notifier.BroadcastWake(ctx, peers); err != nil {
			eng.logger.Warn("periodic: broadcast wake failed",
				slog.Int("peers", len(peers)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// InstanceID returns this process's instance identity.
func (eng *Engine) InstanceID() id.InstanceID { return eng.instanceID }

// Config returns the engine configuration.
func (eng *Engine) Config() periodic.Config { return eng.cfg }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Scheduler returns the periodic scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Peers returns the instance registry.
func (eng *Engine) Peers() *cluster.Registry { return eng.peers }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
