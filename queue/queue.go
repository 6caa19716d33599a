package queue

import (
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier, matched against job.Queue.
	Name string `yaml:"name"`

	// MaxConcurrency limits how many jobs from this queue run at once in
	// the local pool. Zero means no queue-specific limit.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RateLimit is the sustained jobs per second started from this queue.
	// Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is
	// set.
	RateBurst int `yaml:"rate_burst"`
}

// TypeConfig defines limits for one task type across every queue.
type TypeConfig struct {
	TaskType       string  `yaml:"task_type"`
	MaxConcurrency int     `yaml:"max_concurrency"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

// gate is the runtime state behind one Config or TypeConfig.
type gate struct {
	maxConcurrency int
	limiter        *rate.Limiter
	active         int
}

func newGate(maxConcurrency int, limit float64, burst int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return g
}

// full reports whether the concurrency cap is reached.
func (g *gate) full() bool {
	return g.maxConcurrency > 0 && g.active >= g.maxConcurrency
}

// Manager gates job starts by queue and task type. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*gate
	types  map[string]*gate
}

// NewManager creates a Manager with the given queue configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*gate, len(configs)),
		types:  make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	}
	return m
}

// Acquire reserves a slot for a job of taskType on queue. It returns false
// without side effects when either gate is full or rate limited. A true
// result must be paired with Release.
func (m *Manager) Acquire(queue, taskType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qg, tg := m.queues[queue], m.types[taskType]

	// Concurrency is checked before either limiter so a full gate does not
	// burn a rate token.
	if (qg != nil && qg.full()) || (tg != nil && tg.full()) {
		return false
	}
	if qg != nil && qg.limiter != nil && !qg.limiter.Allow() {
		return false
	}
	if tg != nil && tg.limiter != nil && !tg.limiter.Allow() {
		return false
	}

	if qg != nil {
		qg.active++
	}
	if tg != nil {
		tg.active++
	}
	return true
}

// Release frees the slot taken by a successful Acquire.
func (m *Manager) Release(queue, taskType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.queues[queue]; g != nil && g.active > 0 {
		g.active--
	}
	if g := m.types[taskType]; g != nil && g.active > 0 {
		g.active--
	}
}

// SetQueueConfig creates or replaces a queue configuration. Running jobs
// keep counting against the new limits.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	if old := m.queues[cfg.Name]; old != nil {
		g.active = old.active
	}
	m.queues[cfg.Name] = g
}

// SetTypeConfig creates or replaces a task-type configuration.
func (m *Manager) SetTypeConfig(cfg TypeConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	if old := m.types[cfg.TaskType]; old != nil {
		g.active = old.active
	}
	m.types[cfg.TaskType] = g
}

// ActiveCount returns the running jobs counted against a configured queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.queues[queue]; g != nil {
		return g.active
	}
	return 0
}

// TypeActiveCount returns the running jobs counted against a configured
// task type.
func (m *Manager) TypeActiveCount(taskType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.types[taskType]; g != nil {
		return g.active
	}
	return 0
}

// Queues returns the configured queue names, sorted.
func (m *Manager) Queues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
