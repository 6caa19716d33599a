package engine

import (
	"context"
	"time"

	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
)

// Status is a point-in-time snapshot of the engine for health checks and
// the management API.
type Status struct {
	InstanceID          id.InstanceID `json:"instance_id"`
	State               string        `json:"state"`
	Iterations          uint64        `json:"iterations"`
	LastWake            string        `json:"last_wake"`
	NextWakeAt          *time.Time    `json:"next_wake_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	InFlight            []id.TaskID   `json:"in_flight"`
	ActiveJobs          int           `json:"active_jobs"`
	PendingJobs         int64         `json:"pending_jobs"`
	Config              ConfigView    `json:"config"`
}

// ConfigView is the JSON form of the configuration, durations as strings.
type ConfigView struct {
	MaxPollInterval     string   `json:"max_poll_interval"`
	ClaimLockTimeout    string   `json:"claim_lock_timeout"`
	AllowOverlapDefault bool     `json:"allow_overlap_default"`
	BackoffInitial      string   `json:"backoff_initial"`
	Concurrency         int      `json:"concurrency"`
	Queues              []string `json:"queues"`
}

// Status reports the scheduler state, in-flight markers and store health.
// A failing job count is reported as -1 rather than an error.
func (eng *Engine) Status(ctx context.Context) Status {
	s := eng.scheduler
	run := s.RunState()

	st := Status{
		InstanceID:          eng.instanceID,
		State:               s.State().String(),
		Iterations:          run.Iterations(),
		LastWake:            run.LastWake().String(),
		ConsecutiveFailures: s.ConsecutiveFailures(),
		InFlight:            run.Markers(),
		ActiveJobs:          eng.pool.ActiveJobs(),
		Config: ConfigView{
			MaxPollInterval:     eng.cfg.MaxPollInterval.String(),
			ClaimLockTimeout:    eng.cfg.ClaimLockTimeout.String(),
			AllowOverlapDefault: eng.cfg.AllowOverlapDefault,
			BackoffInitial:      eng.cfg.BackoffInitial.String(),
			Concurrency:         eng.cfg.Concurrency,
			Queues:              eng.cfg.Queues,
		},
	}
	if next := run.NextWakeAt(); !next.IsZero() {
		st.NextWakeAt = &next
	}
	if err := run.LastError(); err != nil {
		st.LastError = err.Error()
	}

	pending, err := eng.store.CountJobs(ctx, job.CountOpts{State: job.StatePending})
	if err != nil {
		pending = -1
	}
	st.PendingJobs = pending
	return st
}
