package job

import (
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateCancelled means the job was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further execution will happen in this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job is a unit of work submitted to the queue.
type Job struct {
	periodic.Entity

	ID          id.JobID      `json:"id"`
	TaskType    string        `json:"task_type"`
	Queue       string        `json:"queue"`
	Args        []byte        `json:"args,omitempty"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	MaxRetries  int           `json:"max_retries"`
	RetryCount  int           `json:"retry_count"`
	LastError   string        `json:"last_error,omitempty"`
	TaskID      id.TaskID     `json:"task_id,omitempty"`
	WorkerID    string        `json:"worker_id,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// New builds a pending job for taskType with a fresh ID. Options fill in
// queue, priority, retries, timeout and run time.
func New(taskType string, args []byte, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	runAt := o.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	return &Job{
		Entity:      periodic.NewEntity(),
		ID:          id.NewJobID(),
		TaskType:    taskType,
		Queue:       o.Queue,
		Args:        args,
		State:       StatePending,
		Priority:    o.Priority,
		MaxRetries:  o.MaxRetries,
		TaskID:      o.TaskID,
		SubmittedAt: now,
		RunAt:       runAt,
		Timeout:     o.Timeout,
	}
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Args != nil {
		cp.Args = append([]byte(nil), j.Args...)
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
