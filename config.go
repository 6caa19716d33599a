package periodic

import (
	"fmt"
	"time"
)

// Config holds configuration for the scheduler and its workers.
type Config struct {
	// MaxPollInterval caps every scheduler sleep. It is also the delay used
	// when nothing is scheduled, acting as a safety-net poll.
	MaxPollInterval time.Duration

	// AllowOverlapDefault is the overlap policy applied to new task
	// definitions that do not state one.
	AllowOverlapDefault bool

	// ClaimLockTimeout is how long a claim or in-flight marker is honored
	// before the task becomes claimable again.
	ClaimLockTimeout time.Duration

	// BackoffInitial is the first delay after a store failure. Consecutive
	// failures double it up to MaxPollInterval.
	BackoffInitial time.Duration

	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues the worker pool will poll.
	Queues []string

	// PollInterval is how often workers poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs and scheduler instances
	// send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a job without heartbeat is
	// considered stale.
	StaleJobThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPollInterval:   1 * time.Minute,
		ClaimLockTimeout:  5 * time.Minute,
		BackoffInitial:    1 * time.Second,
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.MaxPollInterval <= 0:
		return fmt.Errorf("%w: max poll interval must be positive", ErrInvalidConfig)
	case c.ClaimLockTimeout <= 0:
		return fmt.Errorf("%w: claim lock timeout must be positive", ErrInvalidConfig)
	case c.BackoffInitial <= 0:
		return fmt.Errorf("%w: backoff initial must be positive", ErrInvalidConfig)
	case c.BackoffInitial > c.MaxPollInterval:
		return fmt.Errorf("%w: backoff initial exceeds max poll interval", ErrInvalidConfig)
	case c.Concurrency < 0:
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	case c.StaleJobThreshold <= c.HeartbeatInterval:
		return fmt.Errorf("%w: stale job threshold must exceed heartbeat interval", ErrInvalidConfig)
	}
	return nil
}
