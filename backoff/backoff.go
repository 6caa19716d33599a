// Package backoff provides retry delay strategies. The scheduler uses a
// bounded Exponential to space out retries after store failures; the worker
// executor uses ExponentialWithJitter between job attempts.
package backoff

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(exponential(e.Initial, e.Max, attempt))
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponential(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ceiling keeps float-to-Duration conversions in range.
const ceiling = float64(1 << 62)

// exponential returns the capped base delay in nanoseconds. Attempts
// below 1 are treated as 1, and the result never overflows time.Duration.
func exponential(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && base > float64(maxDelay) {
		return float64(maxDelay)
	}
	if base > ceiling {
		return ceiling
	}
	return base
}

// ──────────────────────────────────────────────────
// Tracker
// ──────────────────────────────────────────────────

// Tracker counts consecutive failures and maps them to a delay through a
// Strategy. A success resets the count.
type Tracker struct {
	mu       sync.Mutex
	strategy Strategy
	failures int
}

// NewTracker creates a Tracker over s.
func NewTracker(s Strategy) *Tracker {
	return &Tracker{strategy: s}
}

// Failure records one more consecutive failure and returns the delay to
// wait before trying again.
func (t *Tracker) Failure() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	return t.strategy.Delay(t.failures)
}

// Success resets the consecutive failure count.
func (t *Tracker) Success() {
	t.mu.Lock()
	t.failures = 0
	t.mu.Unlock()
}

// Failures returns the current consecutive failure count.
func (t *Tracker) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default job retry backoff:
// ExponentialWithJitter with 1s initial and 1m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
