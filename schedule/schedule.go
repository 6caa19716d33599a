// Package schedule parses recurrence expressions into schedules that compute
// the next fire time of a periodic task.
//
// Expressions use the standard 5-field cron syntax (minute, hour, day of
// month, month, day of week) or a descriptor such as "@hourly" or
// "@every 30s". A schedule is evaluated in its IANA timezone; fire times are
// always returned in UTC.
package schedule

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // timezone names resolve in minimal container images

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/periodic"
)

var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Schedule is a parsed recurrence rule bound to a timezone.
type Schedule struct {
	expr     string
	location *time.Location
	inner    cronlib.Schedule
}

// Parse parses expr in the named timezone. An empty timezone means UTC.
// Errors wrap periodic.ErrInvalidSchedule.
func Parse(expr, timezone string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", periodic.ErrInvalidSchedule)
	}

	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", periodic.ErrInvalidSchedule, timezone, err)
		}
		loc = l
	}

	inner, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", periodic.ErrInvalidSchedule, expr, err)
	}

	return &Schedule{expr: expr, location: loc, inner: inner}, nil
}

// Validate reports whether expr and timezone parse.
func Validate(expr, timezone string) error {
	_, err := Parse(expr, timezone)
	return err
}

// Next returns the first fire time strictly after t, in UTC. It returns the
// zero time if the schedule can never fire again.
func (s *Schedule) Next(t time.Time) time.Time {
	next := s.inner.Next(t.In(s.location))
	if next.IsZero() {
		return next
	}
	return next.UTC()
}

// String returns the source expression.
func (s *Schedule) String() string { return s.expr }

// Location returns the timezone the schedule is evaluated in.
func (s *Schedule) Location() *time.Location { return s.location }

// ──────────────────────────────────────────────────
// Cache
// ──────────────────────────────────────────────────

// Cache memoizes parsed schedules by expression and timezone. Failed parses
// are not cached so an edited definition is re-evaluated.
type Cache struct {
	mu     sync.RWMutex
	parsed map[string]*Schedule
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{parsed: make(map[string]*Schedule)}
}

// Get returns the cached schedule for expr and timezone, parsing it on
// first use.
func (c *Cache) Get(expr, timezone string) (*Schedule, error) {
	key := timezone + "|" + expr

	c.mu.RLock()
	sched, ok := c.parsed[key]
	c.mu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := Parse(expr, timezone)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.parsed[key] = sched
	c.mu.Unlock()
	return sched, nil
}

// Len returns the number of cached schedules.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.parsed)
}
