package queue

import (
	"sync"
	"sync/atomic"
	"testing"
)

// ---------------------------------------------------------------------------
// Queue gates
// ---------------------------------------------------------------------------

func TestManager_UnconfiguredAlwaysAllows(t *testing.T) {
	m := NewManager()
	for range 100 {
		if !m.Acquire("anything", "any.type") {
			t.Fatal("unconfigured queue should never block")
		}
	}
	m.Release("anything", "any.type")
	if m.ActiveCount("anything") != 0 {
		t.Fatal("unconfigured queues are not counted")
	}
}

func TestManager_QueueConcurrency(t *testing.T) {
	m := NewManager(Config{Name: "reports", MaxConcurrency: 2})

	if !m.Acquire("reports", "a") || !m.Acquire("reports", "b") {
		t.Fatal("first two acquires should succeed")
	}
	if m.Acquire("reports", "c") {
		t.Fatal("third acquire should fail at max concurrency 2")
	}
	if got := m.ActiveCount("reports"); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}

	m.Release("reports", "a")
	if !m.Acquire("reports", "c") {
		t.Fatal("acquire should succeed after release")
	}
}

func TestManager_QueueRateLimit(t *testing.T) {
	m := NewManager(Config{Name: "bulk", RateLimit: 0.001, RateBurst: 3})

	allowed := 0
	for range 10 {
		if m.Acquire("bulk", "t") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed = %d, want burst of 3", allowed)
	}
}

func TestManager_RateBurstDefaultsToOne(t *testing.T) {
	m := NewManager(Config{Name: "slow", RateLimit: 0.001})

	if !m.Acquire("slow", "t") {
		t.Fatal("first acquire should use the single burst token")
	}
	if m.Acquire("slow", "t") {
		t.Fatal("second acquire should be rate limited")
	}
}

func TestManager_FullGateDoesNotSpendRateToken(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 1, RateLimit: 0.001, RateBurst: 2})

	if !m.Acquire("q", "t") {
		t.Fatal("first acquire should succeed")
	}
	for range 5 {
		if m.Acquire("q", "t") {
			t.Fatal("acquire at max concurrency should fail")
		}
	}
	m.Release("q", "t")
	if !m.Acquire("q", "t") {
		t.Fatal("second burst token was spent by a blocked acquire")
	}
}

// ---------------------------------------------------------------------------
// Task-type gates
// ---------------------------------------------------------------------------

func TestManager_TypeConcurrencyAcrossQueues(t *testing.T) {
	m := NewManager()
	m.SetTypeConfig(TypeConfig{TaskType: "report.generate", MaxConcurrency: 1})

	if !m.Acquire("default", "report.generate") {
		t.Fatal("first acquire should succeed")
	}
	if m.Acquire("critical", "report.generate") {
		t.Fatal("type limit should apply across queues")
	}
	if !m.Acquire("critical", "email.send") {
		t.Fatal("other task types are unaffected")
	}
	if got := m.TypeActiveCount("report.generate"); got != 1 {
		t.Fatalf("type active = %d, want 1", got)
	}

	m.Release("default", "report.generate")
	if got := m.TypeActiveCount("report.generate"); got != 0 {
		t.Fatalf("type active after release = %d, want 0", got)
	}
}

func TestManager_QueueAndTypeBothApply(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 5})
	m.SetTypeConfig(TypeConfig{TaskType: "t", MaxConcurrency: 1})

	if !m.Acquire("q", "t") {
		t.Fatal("first acquire should succeed")
	}
	if m.Acquire("q", "t") {
		t.Fatal("type gate should block")
	}
	if got := m.ActiveCount("q"); got != 1 {
		t.Fatalf("rejected acquire changed queue count: %d", got)
	}
}

// ---------------------------------------------------------------------------
// Reconfiguration
// ---------------------------------------------------------------------------

func TestManager_SetQueueConfigPreservesActive(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 3})
	m.Acquire("q", "t")
	m.Acquire("q", "t")

	m.SetQueueConfig(Config{Name: "q", MaxConcurrency: 2})
	if got := m.ActiveCount("q"); got != 2 {
		t.Fatalf("active after reconfigure = %d, want 2", got)
	}
	if m.Acquire("q", "t") {
		t.Fatal("new limit should apply to running jobs")
	}
}

func TestManager_ReleaseNeverNegative(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 1})
	m.Release("q", "t")
	m.Release("q", "t")
	if got := m.ActiveCount("q"); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
}

func TestManager_Queues(t *testing.T) {
	m := NewManager(Config{Name: "b"}, Config{Name: "a"})
	m.SetQueueConfig(Config{Name: "c"})

	got := m.Queues()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("Queues = %v", got)
	}
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	const limit = 4
	m := NewManager(Config{Name: "q", MaxConcurrency: limit})

	var (
		wg      sync.WaitGroup
		running atomic.Int32
		peak    atomic.Int32
	)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if !m.Acquire("q", "t") {
					continue
				}
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				running.Add(-1)
				m.Release("q", "t")
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > limit {
		t.Fatalf("peak concurrency %d exceeded limit %d", p, limit)
	}
	if got := m.ActiveCount("q"); got != 0 {
		t.Fatalf("active after all releases = %d", got)
	}
}
