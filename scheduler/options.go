package scheduler

import (
	"log/slog"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/schedule"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig sets the scheduler configuration.
func WithConfig(cfg periodic.Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// WithOwner sets the owner name written into claim tokens. It defaults to
// a fresh instance ID.
func WithOwner(owner string) Option {
	return func(s *Scheduler) {
		if owner != "" {
			s.owner = owner
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithScheduleCache shares a parsed-schedule cache with other components.
func WithScheduleCache(c *schedule.Cache) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cache = c
		}
	}
}
