package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/task"
)

const taskColumns = `
	id, name, enabled, schedule, timezone, task_type, args,
	queue, priority, allow_overlap,
	last_submitted_at, next_due_at, locked_by, locked_until,
	in_flight_job_id, schedule_error, created_at, updated_at`

// CreateTask persists a new definition.
func (s *Store) CreateTask(ctx context.Context, d *task.Definition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO periodic_tasks (`+taskColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)`,
		d.ID.String(), d.Name, d.Enabled, d.Schedule, d.Timezone, d.TaskType, d.Args,
		d.Queue, d.Priority, d.AllowOverlap,
		d.LastSubmittedAt, d.NextDueAt, d.LockedBy, d.LockedUntil,
		d.InFlightJobID.String(), d.ScheduleError, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return periodic.ErrDuplicateTask
		}
		return fmt.Errorf("periodic/postgres: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a definition by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Definition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM periodic_tasks WHERE id = $1`,
		taskID.String(),
	)
	d, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, periodic.ErrTaskNotFound
		}
		return nil, fmt.Errorf("periodic/postgres: get task: %w", err)
	}
	return d, nil
}

// ListTasks returns definitions ordered by name.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Definition, error) {
	query := `SELECT ` + taskColumns + ` FROM periodic_tasks`
	args := []any{}
	argIdx := 1

	if opts.EnabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name ASC`

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
		return nil, fmt.Errorf("periodic/postgres: list tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// UpdateTask persists the caller-editable fields of a definition.
func (s *Store) UpdateTask(ctx context.Context, d *task.Definition) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE periodic_tasks SET
			name = $2, enabled = $3, schedule = $4, timezone = $5,
			task_type = $6, args = $7, queue = $8, priority = $9,
			allow_overlap = $10, next_due_at = $11, schedule_error = $12,
			updated_at = NOW()
		WHERE id = $1`,
		d.ID.String(), d.Name, d.Enabled, d.Schedule, d.Timezone,
		d.TaskType, d.Args, d.Queue, d.Priority,
		d.AllowOverlap, d.NextDueAt, d.ScheduleError,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return periodic.ErrDuplicateTask
		}
		return fmt.Errorf("periodic/postgres: update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return periodic.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a definition by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM periodic_tasks WHERE id = $1`, taskID.String())
	if err != nil {
		return fmt.Errorf("periodic/postgres: delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return periodic.ErrTaskNotFound
	}
	return nil
}

// FindNextDue claims the earliest due definition in one statement. SKIP
// LOCKED lets concurrent claimers pass over a row another transaction is
// claiming instead of waiting on it.
func (s *Store) FindNextDue(ctx context.Context, now time.Time, owner string, lockTTL time.Duration) (*task.Claim, error) {
	token := task.NewToken(owner)
	row := s.pool.QueryRow(ctx, `
		UPDATE periodic_tasks SET
			locked_by = $2, locked_until = $3, in_flight_job_id = '', updated_at = NOW()
		WHERE id = (
			SELECT id FROM periodic_tasks
			WHERE enabled
			  AND schedule_error = ''
			  AND next_due_at IS NOT NULL
			  AND next_due_at <= $1
			  AND (locked_by = '' OR locked_until IS NULL OR locked_until < $1)
			ORDER BY next_due_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		now, token, now.Add(lockTTL),
	)

	d, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // nothing due
		}
		return nil, fmt.Errorf("periodic/postgres: claim task: %w", err)
	}
	return &task.Claim{Task: d, Token: token, ClaimedAt: now, LockTTL: lockTTL}, nil
}

// PeekNextWake returns the earliest claimable time across definitions.
func (s *Store) PeekNextWake(ctx context.Context, now time.Time) (*time.Time, error) {
	var wake *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(
			CASE
				WHEN locked_by <> '' AND locked_until >= $1 AND locked_until > next_due_at
				THEN locked_until
				ELSE next_due_at
			END)
		FROM periodic_tasks
		WHERE enabled AND schedule_error = '' AND next_due_at IS NOT NULL`,
		now,
	).Scan(&wake)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: peek next wake: %w", err)
	}
	return wake, nil
}

// MarkSubmitted records a submission for a claim still held by its token.
func (s *Store) MarkSubmitted(ctx context.Context, claim *task.Claim, sub task.Submission) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE periodic_tasks SET
			last_submitted_at = $3,
			next_due_at = $4,
			locked_by = CASE WHEN allow_overlap THEN '' ELSE locked_by END,
			locked_until = CASE WHEN allow_overlap THEN NULL ELSE $5::timestamptz END,
			in_flight_job_id = CASE WHEN allow_overlap THEN '' ELSE $6 END,
			updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		claim.Task.ID.String(), claim.Token,
		sub.SubmittedAt, sub.NextDueAt,
		sub.SubmittedAt.Add(claim.LockTTL), sub.JobID.String(),
	)
	if err != nil {
		return fmt.Errorf("periodic/postgres: mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.claimMiss(ctx, claim.Task.ID)
	}
	return nil
}

// MarkCompleted clears the in-flight marker for jobID.
func (s *Store) MarkCompleted(ctx context.Context, taskID id.TaskID, jobID id.JobID) error {
	if !jobID.IsNil() {
		tag, err := s.pool.Exec(ctx, `
			UPDATE periodic_tasks SET
				locked_by = '', locked_until = NULL, in_flight_job_id = '', updated_at = NOW()
			WHERE id = $1 AND in_flight_job_id = $2`,
			taskID.String(), jobID.String(),
		)
		if err != nil {
			return fmt.Errorf("periodic/postgres: mark completed: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}
	exists, err := s.taskExists(ctx, taskID)
	if err != nil {
		return err
	}
	if !exists {
		return periodic.ErrTaskNotFound
	}
	return nil
}

// Release rolls back a claim still held by its token.
func (s *Store) Release(ctx context.Context, claim *task.Claim) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE periodic_tasks SET
			locked_by = '', locked_until = NULL, in_flight_job_id = '', updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		claim.Task.ID.String(), claim.Token,
	)
	if err != nil {
		return fmt.Errorf("periodic/postgres: release claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.claimMiss(ctx, claim.Task.ID)
	}
	return nil
}

// MarkInvalid flags a claimed definition and releases it.
func (s *Store) MarkInvalid(ctx context.Context, claim *task.Claim, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE periodic_tasks SET
			schedule_error = $3, next_due_at = NULL,
			locked_by = '', locked_until = NULL, in_flight_job_id = '', updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		claim.Task.ID.String(), claim.Token, reason,
	)
	if err != nil {
		return fmt.Errorf("periodic/postgres: mark invalid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.claimMiss(ctx, claim.Task.ID)
	}
	return nil
}

// claimMiss explains a conditional update that matched no row: the task
// is gone, or its lock belongs to someone else.
func (s *Store) claimMiss(ctx context.Context, taskID id.TaskID) error {
	exists, err := s.taskExists(ctx, taskID)
	if err != nil {
		return err
	}
	if !exists {
		return periodic.ErrTaskNotFound
	}
	return periodic.ErrClaimLost
}

func (s *Store) taskExists(ctx context.Context, taskID id.TaskID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM periodic_tasks WHERE id = $1)`,
		taskID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("periodic/postgres: check task: %w", err)
	}
	return exists, nil
}

// scanTask scans a single task row.
func scanTask(row pgx.Row) (*task.Definition, error) {
	var (
		d        task.Definition
		idStr    string
		inFlight string
	)
	err := row.Scan(
		&idStr, &d.Name, &d.Enabled, &d.Schedule, &d.Timezone, &d.TaskType, &d.Args,
		&d.Queue, &d.Priority, &d.AllowOverlap,
		&d.LastSubmittedAt, &d.NextDueAt, &d.LockedBy, &d.LockedUntil,
		&inFlight, &d.ScheduleError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseTaskID(idStr)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: parse task id %q: %w", idStr, err)
	}
	d.ID = parsed

	if inFlight != "" {
		if jobID, err := id.ParseJobID(inFlight); err == nil {
			d.InFlightJobID = jobID
		}
	}

	utc(&d.CreatedAt)
	utc(&d.UpdatedAt)
	return &d, nil
}

// collectTasks collects all tasks from query rows.
func collectTasks(rows pgx.Rows) ([]*task.Definition, error) {
	var tasks []*task.Definition
	for rows.Next() {
		d, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("periodic/postgres: scan task row: %w", err)
		}
		tasks = append(tasks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("periodic/postgres: iterate task rows: %w", err)
	}
	return tasks, nil
}
