package scheduler

import (
	"testing"
	"time"

	"github.com/xraph/periodic/id"
)

func TestNextDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }

	tests := []struct {
		name string
		next *time.Time
		want time.Duration
	}{
		{"nothing scheduled", nil, time.Minute},
		{"already due", at(-time.Hour), 0},
		{"due now", at(0), 0},
		{"soon", at(15 * time.Second), 15 * time.Second},
		{"beyond max poll", at(time.Hour), time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextDelay(now, tt.next, time.Minute); got != tt.want {
				t.Errorf("nextDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWakeCycle_TimerElapses(t *testing.T) {
	w := NewWakeCycle()
	if got := w.Wait(10 * time.Millisecond); got != WakeTimer {
		t.Fatalf("Wait = %v, want timer", got)
	}
}

func TestWakeCycle_NotifyInterruptsWait(t *testing.T) {
	w := NewWakeCycle()
	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Notify()
	}()

	start := time.Now()
	if got := w.Wait(time.Hour); got != WakeNotify {
		t.Fatalf("Wait = %v, want notify", got)
	}
	if time.Since(start) > time.Second {
		t.Fatal("notify did not interrupt the wait")
	}
}

func TestWakeCycle_NotifyCoalesces(t *testing.T) {
	w := NewWakeCycle()
	for range 50 {
		w.Notify()
	}

	if got := w.Wait(time.Hour); got != WakeNotify {
		t.Fatalf("first Wait = %v, want notify", got)
	}
	if got := w.Wait(10 * time.Millisecond); got != WakeTimer {
		t.Fatalf("second Wait = %v, want timer; notifies should coalesce", got)
	}
}

func TestWakeCycle_ZeroDelayConsumesNotify(t *testing.T) {
	w := NewWakeCycle()
	w.Notify()

	if got := w.Wait(0); got != WakeTimer {
		t.Fatalf("Wait(0) = %v, want timer", got)
	}
	if got := w.Wait(10 * time.Millisecond); got != WakeTimer {
		t.Fatalf("pending notify survived a zero wait: %v", got)
	}
}

func TestWakeCycle_StopIsTerminal(t *testing.T) {
	w := NewWakeCycle()
	w.Notify()
	w.Stop()
	w.Stop()

	for _, d := range []time.Duration{0, time.Hour} {
		if got := w.Wait(d); got != WakeShutdown {
			t.Errorf("Wait(%v) after Stop = %v, want shutdown", d, got)
		}
	}
	if !w.Stopped() {
		t.Error("Stopped = false after Stop")
	}
}

func TestRunState_PruneMarkers(t *testing.T) {
	r := newRunState()
	now := time.Now()
	oldID, newID := id.NewTaskID(), id.NewTaskID()

	r.addMarker(oldID, now.Add(-10*time.Minute))
	r.addMarker(newID, now)
	r.pruneMarkers(now, 5*time.Minute)

	if r.HasMarker(oldID) {
		t.Error("expired marker not pruned")
	}
	if !r.HasMarker(newID) {
		t.Error("live marker pruned")
	}
	if !r.removeMarker(newID) || r.removeMarker(newID) {
		t.Error("removeMarker should report presence exactly once")
	}
}

func TestWakeCycle_PauseKeepsNotify(t *testing.T) {
	w := NewWakeCycle()
	w.Notify()

	if !w.pause(5 * time.Millisecond) {
		t.Fatal("pause reported stop on a running cycle")
	}
	if got := w.Wait(time.Second); got != WakeNotify {
		t.Fatalf("pending notify lost across pause: got %v", got)
	}

	w.Stop()
	start := time.Now()
	if w.pause(time.Second) {
		t.Fatal("pause should report false once stopped")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("pause did not return promptly after Stop")
	}
}
