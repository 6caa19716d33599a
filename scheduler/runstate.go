package scheduler

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/periodic/id"
)

// RunState is the in-memory state of one running scheduler. It is never
// persisted and never consulted for claim correctness; the store is the
// source of truth.
type RunState struct {
	shutdownRequested atomic.Bool
	iterations        atomic.Uint64

	mu         sync.Mutex
	markers    map[id.TaskID]time.Time
	lastWake   WakeReason
	nextWakeAt time.Time
	lastErr    error
}

func newRunState() *RunState {
	return &RunState{markers: make(map[id.TaskID]time.Time)}
}

// ShutdownRequested reports whether shutdown has been requested. Once true
// it stays true.
func (r *RunState) ShutdownRequested() bool { return r.shutdownRequested.Load() }

func (r *RunState) requestShutdown() { r.shutdownRequested.Store(true) }

func (r *RunState) addMarker(taskID id.TaskID, at time.Time) {
	r.mu.Lock()
	r.markers[taskID] = at
	r.mu.Unlock()
}

// removeMarker deletes the marker and reports whether it was present.
func (r *RunState) removeMarker(taskID id.TaskID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.markers[taskID]
	delete(r.markers, taskID)
	return ok
}

// HasMarker reports whether taskID is believed in flight by this process.
func (r *RunState) HasMarker(taskID id.TaskID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.markers[taskID]
	return ok
}

// Markers returns the task IDs believed in flight by this process, sorted.
func (r *RunState) Markers() []id.TaskID {
	r.mu.Lock()
	out := make([]id.TaskID, 0, len(r.markers))
	for taskID := range r.markers {
		out = append(out, taskID)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// pruneMarkers drops markers older than ttl. The store expires the matching
// in-flight locks on the same schedule.
func (r *RunState) pruneMarkers(now time.Time, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for taskID, at := range r.markers {
		if now.Sub(at) > ttl {
			delete(r.markers, taskID)
		}
	}
}

func (r *RunState) recordWait(now time.Time, delay time.Duration) {
	r.iterations.Add(1)
	r.mu.Lock()
	r.nextWakeAt = now.Add(delay)
	r.mu.Unlock()
}

func (r *RunState) recordWake(reason WakeReason) {
	r.mu.Lock()
	r.lastWake = reason
	r.mu.Unlock()
}

func (r *RunState) recordError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// LastError returns the error of the most recent failed iteration, or nil
// once an iteration succeeds.
func (r *RunState) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Iterations returns the number of completed loop iterations.
func (r *RunState) Iterations() uint64 { return r.iterations.Load() }

// NextWakeAt returns when the current wait is due to time out.
func (r *RunState) NextWakeAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextWakeAt
}

// LastWake returns the reason the most recent wait resolved.
func (r *RunState) LastWake() WakeReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastWake
}
