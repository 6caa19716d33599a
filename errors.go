package periodic

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("periodic: no store configured")
	ErrStoreClosed      = errors.New("periodic: store closed")
	ErrStoreUnavailable = errors.New("periodic: store unavailable")
	ErrMigrationFailed  = errors.New("periodic: migration failed")

	// Not found errors.
	ErrTaskNotFound     = errors.New("periodic: task not found")
	ErrJobNotFound      = errors.New("periodic: job not found")
	ErrInstanceNotFound = errors.New("periodic: instance not found")

	// Conflict errors.
	ErrDuplicateTask    = errors.New("periodic: duplicate task")
	ErrJobAlreadyExists = errors.New("periodic: job already exists")
	ErrClaimLost        = errors.New("periodic: claim lost")

	// Validation errors.
	ErrInvalidSchedule = errors.New("periodic: invalid schedule")
	ErrInvalidConfig   = errors.New("periodic: invalid config")
	ErrInvalidTask     = errors.New("periodic: invalid task")

	// Scheduler state errors.
	ErrSchedulerStarted = errors.New("periodic: scheduler already started")
	ErrSchedulerStopped = errors.New("periodic: scheduler stopped")

	// Execution errors.
	ErrNoHandler          = errors.New("periodic: no handler registered")
	ErrMaxRetriesExceeded = errors.New("periodic: max retries exceeded")
)
