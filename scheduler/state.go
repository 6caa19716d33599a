package scheduler

import "context"

// State is the scheduler lifecycle state.
type State int32

const (
	// StateIdle means Start has not been called.
	StateIdle State = iota
	// StateRunning means the background loop is active.
	StateRunning
	// StateShuttingDown means shutdown was requested and the loop is
	// finishing its current iteration.
	StateShuttingDown
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handle supervises a running loop.
type Handle struct {
	s    *Scheduler
	done chan struct{}
}

func newHandle(s *Scheduler) *Handle {
	return &Handle{s: s, done: make(chan struct{})}
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the scheduler state.
func (h *Handle) State() State { return h.s.State() }

// LastError returns the error of the most recent failed iteration, or nil
// once an iteration succeeds. Useful for health checks.
func (h *Handle) LastError() error { return h.s.run.LastError() }

// Wait blocks until the loop exits or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
