package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
)

const jobColumns = `
	id, task_type, queue, args, state, priority, max_retries, retry_count,
	last_error, task_id, worker_id,
	submitted_at, run_at, started_at, completed_at, heartbeat_at,
	timeout, created_at, updated_at`

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periodic_jobs (`+jobColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.TaskType, j.Queue, j.Args, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.TaskID.String(), j.WorkerID,
		millis(j.SubmittedAt), millis(j.RunAt),
		nullMillis(j.StartedAt), nullMillis(j.CompletedAt), nullMillis(j.HeartbeatAt),
		j.Timeout.Nanoseconds(), millis(j.CreatedAt), millis(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return periodic.ErrJobAlreadyExists
		}
		return fmt.Errorf("periodic/sqlite: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit ready jobs, sets them to
// running and returns them. An empty queue list means every queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, workerID string, limit int) ([]*job.Job, error) {
	now := millis(time.Now())
	args := []any{workerID, now, now, now}

	filter := ""
	if len(queues) > 0 {
		filter = " AND queue IN (" + placeholders(len(queues)) + ")"
		for _, q := range queues {
			args = append(args, q)
		}
	}
	args = append(args, now, limit)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE periodic_jobs
		SET state = 'running', worker_id = ?, started_at = ?, heartbeat_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM periodic_jobs
			WHERE state IN ('pending', 'retrying')`+filter+`
			  AND run_at <= ?
			ORDER BY priority DESC, run_at ASC, id ASC
			LIMIT ?
		)
		RETURNING `+jobColumns,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: dequeue jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified.
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].Priority != jobs[k].Priority {
			return jobs[i].Priority > jobs[k].Priority
		}
		if !jobs[i].RunAt.Equal(jobs[k].RunAt) {
			return jobs[i].RunAt.Before(jobs[k].RunAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM periodic_jobs WHERE id = ?`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, periodic.ErrJobNotFound
		}
		return nil, fmt.Errorf("periodic/sqlite: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE periodic_jobs SET
			task_type = ?, queue = ?, args = ?, state = ?,
			priority = ?, max_retries = ?, retry_count = ?,
			last_error = ?, task_id = ?, worker_id = ?,
			run_at = ?, started_at = ?, completed_at = ?,
			heartbeat_at = ?, timeout = ?, updated_at = ?
		WHERE id = ?`,
		j.TaskType, j.Queue, j.Args, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.TaskID.String(), j.WorkerID,
		millis(j.RunAt), nullMillis(j.StartedAt), nullMillis(j.CompletedAt),
		nullMillis(j.HeartbeatAt), j.Timeout.Nanoseconds(), millis(time.Now()),
		j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("periodic/sqlite: update job: %w", err)
	}
	return expectRow(res, periodic.ErrJobNotFound)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM periodic_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("periodic/sqlite: delete job: %w", err)
	}
	return expectRow(res, periodic.ErrJobNotFound)
}

// ListJobsByState returns jobs matching the given state, newest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM periodic_jobs WHERE state = ?`
	args := []any{string(state)}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	if !opts.TaskID.IsNil() {
		query += ` AND task_id = ?`
		args = append(args, opts.TaskID.String())
	}
	query += ` ORDER BY id DESC`

	if opts.Limit > 0 || opts.Offset > 0 {
		limit := -1
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: list jobs by state: %w", err)
	}
	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ string) error {
	now := millis(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE periodic_jobs SET heartbeat_at = ?, updated_at = ? WHERE id = ?`,
		now, now, jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("periodic/sqlite: heartbeat job: %w", err)
	}
	return expectRow(res, periodic.ErrJobNotFound)
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM periodic_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < ?`,
		millis(time.Now().Add(-threshold)),
	)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: reap stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM periodic_jobs WHERE 1=1`
	var args []any
	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("periodic/sqlite: count jobs: %w", err)
	}
	return count, nil
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		j                                 job.Job
		idStr, stateStr, taskStr          string
		submittedAt, runAt                int64
		startedAt, completedAt, heartbeat sql.NullInt64
		timeoutNs, createdAt, updatedAt   int64
	)
	err := row.Scan(
		&idStr, &j.TaskType, &j.Queue, &j.Args, &stateStr,
		&j.Priority, &j.MaxRetries, &j.RetryCount,
		&j.LastError, &taskStr, &j.WorkerID,
		&submittedAt, &runAt, &startedAt, &completedAt, &heartbeat,
		&timeoutNs, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: parse job id %q: %w", idStr, err)
	}
	j.ID = parsed
	if taskStr != "" {
		if taskID, err := id.ParseTaskID(taskStr); err == nil {
			j.TaskID = taskID
		}
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	j.SubmittedAt = fromMillis(submittedAt)
	j.RunAt = fromMillis(runAt)
	j.StartedAt = fromNullMillis(startedAt)
	j.CompletedAt = fromNullMillis(completedAt)
	j.HeartbeatAt = fromNullMillis(heartbeat)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	return &j, nil
}

// collectJobs drains and closes rows.
func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("periodic/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("periodic/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}
