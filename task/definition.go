package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/schedule"
)

// DefaultQueue is the queue used when a definition does not name one.
const DefaultQueue = "default"

// Definition is a stored recurrence rule plus the job payload it submits.
type Definition struct {
	periodic.Entity

	// Identity.
	ID      id.TaskID `json:"id"`
	Name    string    `json:"name"`
	Enabled bool      `json:"enabled"`

	// Recurrence.
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`

	// Payload, opaque to the scheduler.
	TaskType string `json:"task_type"`
	Args     []byte `json:"args,omitempty"`

	// Submission policy.
	Queue        string `json:"queue"`
	Priority     int    `json:"priority"`
	AllowOverlap bool   `json:"allow_overlap"`

	// Bookkeeping, owned by the scheduler and the completion path.
	LastSubmittedAt *time.Time `json:"last_submitted_at,omitempty"`
	NextDueAt       *time.Time `json:"next_due_at,omitempty"`
	LockedBy        string     `json:"locked_by,omitempty"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	InFlightJobID   id.JobID   `json:"in_flight_job_id,omitempty"`
	ScheduleError   string     `json:"schedule_error,omitempty"`
}

// Validate checks the fields a caller must supply.
func (d *Definition) Validate() error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("%w: name is required", periodic.ErrInvalidTask)
	case strings.TrimSpace(d.TaskType) == "":
		return fmt.Errorf("%w: task type is required", periodic.ErrInvalidTask)
	case strings.TrimSpace(d.Schedule) == "":
		return fmt.Errorf("%w: schedule is required", periodic.ErrInvalidTask)
	}
	return nil
}

// Reschedule recomputes NextDueAt from the schedule relative to now. A
// schedule that fails to parse is recorded in ScheduleError and leaves the
// definition with no due time, so it is never claimed until edited.
func (d *Definition) Reschedule(cache *schedule.Cache, now time.Time) {
	sched, err := cache.Get(d.Schedule, d.Timezone)
	if err != nil {
		d.ScheduleError = err.Error()
		d.NextDueAt = nil
		return
	}
	d.ScheduleError = ""
	next := sched.Next(now)
	if next.IsZero() {
		d.NextDueAt = nil
		return
	}
	d.NextDueAt = &next
}

// Held reports whether a claim lock is live at now.
func (d *Definition) Held(now time.Time) bool {
	return d.LockedBy != "" && d.LockedUntil != nil && !d.LockedUntil.Before(now)
}

// Due reports whether the definition is eligible for a claim at now.
func (d *Definition) Due(now time.Time) bool {
	return d.Enabled &&
		d.ScheduleError == "" &&
		d.NextDueAt != nil &&
		!d.NextDueAt.After(now) &&
		!d.Held(now)
}

// ClaimableAt returns the earliest time the definition could be claimed:
// its next due time, pushed back to the lock expiry while held. It returns
// nil for disabled, invalid or exhausted definitions.
func (d *Definition) ClaimableAt(now time.Time) *time.Time {
	if !d.Enabled || d.ScheduleError != "" || d.NextDueAt == nil {
		return nil
	}
	at := *d.NextDueAt
	if d.Held(now) && d.LockedUntil.After(at) {
		at = *d.LockedUntil
	}
	return &at
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	cp := *d
	if d.Args != nil {
		cp.Args = append([]byte(nil), d.Args...)
	}
	cp.LastSubmittedAt = cloneTime(d.LastSubmittedAt)
	cp.NextDueAt = cloneTime(d.NextDueAt)
	cp.LockedUntil = cloneTime(d.LockedUntil)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
