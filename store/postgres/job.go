package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO periodic_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19
		)`,
		j.ID.String(), j.TaskType, j.Queue, j.Args, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.TaskID.String(), j.WorkerID,
		j.SubmittedAt, j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return periodic.ErrJobAlreadyExists
		}
		return fmt.Errorf("periodic/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit ready jobs, sets them to
// running and returns them. An empty queue list means every queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, workerID string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE periodic_jobs
			SET state = 'running', worker_id = $3,
			    started_at = $4, heartbeat_at = $4, updated_at = $4
			WHERE id IN (
				SELECT id FROM periodic_jobs
				WHERE state IN ('pending', 'retrying')
				  AND (cardinality($1::text[]) = 0 OR queue = ANY($1::text[]))
				  AND run_at <= $4
				ORDER BY priority DESC, run_at ASC, id ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+jobColumns+`
		)
		SELECT `+jobColumns+` FROM dequeued ORDER BY priority DESC, run_at ASC, id ASC`,
		nonNil(queues), limit, workerID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM periodic_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, periodic.ErrJobNotFound
		}
		return nil, fmt.Errorf("periodic/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE periodic_jobs SET
			task_type = $2, queue = $3, args = $4, state = $5,
			priority = $6, max_retries = $7, retry_count = $8,
			last_error = $9, task_id = $10, worker_id = $11,
			run_at = $12, started_at = $13, completed_at = $14,
			heartbeat_at = $15, timeout = $16, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.TaskType, j.Queue, j.Args, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.TaskID.String(), j.WorkerID,
		j.RunAt, j.StartedAt, j.CompletedAt,
		j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("periodic/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return periodic.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM periodic_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("periodic/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return periodic.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, newest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM periodic_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if !opts.TaskID.IsNil() {
		query += fmt.Sprintf(" AND task_id = $%d", argIdx)
		args = append(args, opts.TaskID.String())
		argIdx++
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE periodic_jobs SET heartbeat_at = $2, updated_at = $2 WHERE id = $1`,
		jobID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("periodic/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return periodic.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM periodic_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM periodic_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("periodic/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		taskStr   string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.TaskType, &j.Queue, &j.Args, &stateStr,
		&j.Priority, &j.MaxRetries, &j.RetryCount,
		&j.LastError, &taskStr, &j.WorkerID,
		&j.SubmittedAt, &j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsed, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsed

	if taskStr != "" {
		if taskID, err := id.ParseTaskID(taskStr); err == nil {
			j.TaskID = taskID
		}
	}

	utc(&j.SubmittedAt)
	utc(&j.RunAt)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("periodic/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("periodic/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
