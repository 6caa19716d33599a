package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/periodic"
)

// Registry keeps one instance registered and heartbeating, and answers peer
// lookups for it.
type Registry struct {
	store    Store
	self     *Instance
	interval time.Duration
	deadTTL  time.Duration
	logger   *slog.Logger

	stateMu sync.Mutex
	state   InstanceState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry for self. Instances whose last heartbeat
// is older than deadTTL are excluded from Peers and eventually reaped.
func NewRegistry(store Store, self *Instance, interval, deadTTL time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		self:     self,
		interval: interval,
		deadTTL:  deadTTL,
		logger:   logger,
		state:    InstanceActive,
		stopCh:   make(chan struct{}),
	}
}

// Self returns the registered instance.
func (r *Registry) Self() *Instance { return r.self }

// Start registers the instance and launches the heartbeat loop.
func (r *Registry) Start(ctx context.Context) error {
	now := time.Now().UTC()
	r.self.State = InstanceActive
	r.self.LastSeen = now
	if r.self.CreatedAt.IsZero() {
		r.self.CreatedAt = now
	}
	if err := r.store.RegisterInstance(ctx, r.self); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.heartbeatLoop()
	return nil
}

// Drain marks the instance as draining on its next heartbeat.
func (r *Registry) Drain() {
	r.stateMu.Lock()
	r.state = InstanceDraining
	r.stateMu.Unlock()
}

// Stop halts the heartbeat loop and deregisters the instance.
func (r *Registry) Stop(ctx context.Context) error {
	close(r.stopCh)
	r.wg.Wait()
	return r.store.DeregisterInstance(ctx, r.self.ID)
}

// Peers returns the addresses of live instances other than self that
// advertise one.
func (r *Registry) Peers(ctx context.Context) ([]string, error) {
	instances, err := r.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	peers := make([]string, 0, len(instances))
	for _, inst := range instances {
		if inst.ID == r.self.ID || inst.Address == "" {
			continue
		}
		if inst.State != InstanceActive || !inst.Alive(now, r.deadTTL) {
			continue
		}
		peers = append(peers, inst.Address)
	}
	return peers, nil
}

func (r *Registry) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.heartbeat()
		}
	}
}

func (r *Registry) heartbeat() {
	ctx := context.Background()

	r.stateMu.Lock()
	state := r.state
	r.stateMu.Unlock()

	err := r.store.HeartbeatInstance(ctx, r.self.ID, state)
	if errors.Is(err, periodic.ErrInstanceNotFound) {
		// Reaped by a peer during a long pause; re-register.
		r.self.State = state
		r.self.LastSeen = time.Now().UTC()
		err = r.store.RegisterInstance(ctx, r.self)
	}
	if err != nil {
		r.logger.Warn("instance heartbeat error",
			slog.String("instance_id", r.self.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	reaped, err := r.store.ReapDeadInstances(ctx, r.deadTTL)
	if err != nil {
		r.logger.Warn("reap dead instances error", slog.String("error", err.Error()))
		return
	}
	for _, inst := range reaped {
		r.logger.Info("reaped dead instance",
			slog.String("instance_id", inst.ID.String()),
			slog.String("hostname", inst.Hostname),
		)
	}
}
