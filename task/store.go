package task

import (
	"context"
	"time"

	"github.com/xraph/periodic/id"
)

// Claim is an exclusive, time-bounded hold on one due definition.
type Claim struct {
	// Task is a snapshot of the definition as it was claimed.
	Task *Definition
	// Token is the lock-owner value written to the definition. It is unique
	// per claim, so a stale holder can never act on a newer claim.
	Token string
	// ClaimedAt is the store-evaluated time of the claim.
	ClaimedAt time.Time
	// LockTTL is how long the claim, and the in-flight marker that follows
	// it, is honored.
	LockTTL time.Duration
}

// NewToken returns a claim token for the given owner.
func NewToken(owner string) string {
	return owner + "/" + id.NewClaimID().String()
}

// Submission records a successful job submission for a claim.
type Submission struct {
	JobID       id.JobID
	SubmittedAt time.Time
	// NextDueAt is the next occurrence after this one. Nil means the
	// schedule is exhausted.
	NextDueAt *time.Time
}

// ListOpts controls filtering and pagination for task list queries.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int
	// EnabledOnly filters out disabled definitions.
	EnabledOnly bool
}

// Store defines the persistence contract for periodic task definitions.
type Store interface {
	// CreateTask persists a new definition. Returns ErrDuplicateTask if the
	// name is already used.
	CreateTask(ctx context.Context, d *Definition) error

	// GetTask retrieves a definition by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Definition, error)

	// ListTasks returns definitions ordered by name.
	ListTasks(ctx context.Context, opts ListOpts) ([]*Definition, error)

	// UpdateTask persists the caller-editable fields of a definition
	// (identity, recurrence, payload, policy, NextDueAt and ScheduleError).
	// Lock and in-flight bookkeeping are left untouched.
	UpdateTask(ctx context.Context, d *Definition) error

	// DeleteTask removes a definition by ID.
	DeleteTask(ctx context.Context, taskID id.TaskID) error

	// FindNextDue atomically selects the enabled, valid definition with the
	// smallest (NextDueAt, ID) such that NextDueAt <= now and no live lock
	// is held, locks it for lockTTL under a fresh token for owner, and
	// returns the claim. Returns nil, nil when nothing is due.
	FindNextDue(ctx context.Context, now time.Time, owner string, lockTTL time.Duration) (*Claim, error)

	// PeekNextWake returns the earliest time any enabled, valid definition
	// becomes claimable, or nil when nothing is scheduled.
	PeekNextWake(ctx context.Context, now time.Time) (*time.Time, error)

	// MarkSubmitted records the submission for a claim still held by its
	// token. The lock is kept as the in-flight marker when overlap is
	// forbidden and cleared otherwise. Returns ErrClaimLost if the token no
	// longer holds the definition.
	MarkSubmitted(ctx context.Context, claim *Claim, sub Submission) error

	// MarkCompleted clears the in-flight marker if jobID is the job in
	// flight for the definition. Any other jobID is a no-op.
	MarkCompleted(ctx context.Context, taskID id.TaskID, jobID id.JobID) error

	// Release rolls back a claim still held by its token, leaving the
	// definition immediately claimable. Returns ErrClaimLost otherwise.
	Release(ctx context.Context, claim *Claim) error

	// MarkInvalid flags a claimed definition whose schedule cannot be
	// evaluated, clears its due time and releases the claim.
	MarkInvalid(ctx context.Context, claim *Claim, reason string) error
}
