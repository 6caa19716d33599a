package scheduler

import (
	"sync"
	"time"
)

// WakeReason reports why a WakeCycle wait resolved.
type WakeReason int

const (
	// WakeTimer means the computed delay elapsed.
	WakeTimer WakeReason = iota
	// WakeNotify means a notify-change signal arrived.
	WakeNotify
	// WakeShutdown means the cycle was stopped.
	WakeShutdown
)

func (r WakeReason) String() string {
	switch r {
	case WakeTimer:
		return "timer"
	case WakeNotify:
		return "notify"
	case WakeShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// WakeCycle is an interruptible sleep. A wait resolves when its timer
// elapses, when Notify is called, or when Stop is called.
//
// Notify signals coalesce: any number of calls while no wait is pending
// collapse into a single early wake. Stop is terminal.
type WakeCycle struct {
	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWakeCycle creates a WakeCycle.
func NewWakeCycle() *WakeCycle {
	return &WakeCycle{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Notify requests an early wake. It never blocks.
func (w *WakeCycle) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Stop resolves the current and every future wait with WakeShutdown.
// It is safe to call more than once.
func (w *WakeCycle) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Stopped reports whether Stop has been called.
func (w *WakeCycle) Stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Wait blocks for up to d. A non-positive d returns immediately and
// consumes any pending notify, since the caller is about to re-check anyway.
// Shutdown takes precedence over every other reason.
func (w *WakeCycle) Wait(d time.Duration) WakeReason {
	if w.Stopped() {
		return WakeShutdown
	}

	if d <= 0 {
		select {
		case <-w.notify:
		default:
		}
		return WakeTimer
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stop:
		return WakeShutdown
	case <-w.notify:
		return WakeNotify
	case <-timer.C:
		return WakeTimer
	}
}

// pause sleeps for d without consuming notify signals. It reports false
// if Stop was called first.
func (w *WakeCycle) pause(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stop:
		return false
	case <-timer.C:
		return true
	}
}

// nextDelay sizes the next wait: zero for a time already passed, the time
// remaining otherwise, and maxPoll when nothing is scheduled. The result
// never exceeds maxPoll.
func nextDelay(now time.Time, next *time.Time, maxPoll time.Duration) time.Duration {
	if next == nil {
		return maxPoll
	}
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	if d > maxPoll {
		return maxPoll
	}
	return d
}
