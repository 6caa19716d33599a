package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/periodic/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesUntilCap(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{500, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_NoCapDoesNotOverflow(t *testing.T) {
	e := backoff.NewExponential(time.Second, 0)
	if got := e.Delay(10_000); got <= 0 {
		t.Errorf("Delay(10000) = %v, want positive", got)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 8*time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		upper := time.Second << (attempt - 1)
		if upper > 8*time.Second {
			upper = 8 * time.Second
		}
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 || got > upper {
				t.Fatalf("Delay(%d) = %v, want within [0, %v]", attempt, got, upper)
			}
		}
	}
}

func TestTracker_FailureAndReset(t *testing.T) {
	tr := backoff.NewTracker(backoff.NewExponential(100*time.Millisecond, time.Second))

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := tr.Failure(); got != w {
			t.Errorf("failure %d: got %v, want %v", i+1, got, w)
		}
	}
	if tr.Failures() != len(want) {
		t.Errorf("Failures() = %d, want %d", tr.Failures(), len(want))
	}

	tr.Success()
	if tr.Failures() != 0 {
		t.Errorf("after Success, Failures() = %d", tr.Failures())
	}
	if got := tr.Failure(); got != 100*time.Millisecond {
		t.Errorf("after reset, got %v, want 100ms", got)
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if _, ok := s.(*backoff.ExponentialWithJitter); !ok {
		t.Fatalf("DefaultStrategy() = %T, want *ExponentialWithJitter", s)
	}
}
