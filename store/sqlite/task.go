package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/task"
)

const taskColumns = `
	id, name, enabled, schedule, timezone, task_type, args,
	queue, priority, allow_overlap,
	last_submitted_at, next_due_at, locked_by, locked_until,
	in_flight_job_id, schedule_error, created_at, updated_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// CreateTask persists a new definition.
func (s *Store) CreateTask(ctx context.Context, d *task.Definition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periodic_tasks (`+taskColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.Name, d.Enabled, d.Schedule, d.Timezone, d.TaskType, d.Args,
		d.Queue, d.Priority, d.AllowOverlap,
		nullMillis(d.LastSubmittedAt), nullMillis(d.NextDueAt), d.LockedBy, nullMillis(d.LockedUntil),
		d.InFlightJobID.String(), d.ScheduleError, millis(d.CreatedAt), millis(d.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return periodic.ErrDuplicateTask
		}
		return fmt.Errorf("periodic/sqlite: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a definition by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Definition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM periodic_tasks WHERE id = ?`,
		taskID.String(),
	)
	d, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, periodic.ErrTaskNotFound
		}
		return nil, fmt.Errorf("periodic/sqlite: get task: %w", err)
	}
	return d, nil
}

// ListTasks returns definitions ordered by name.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Definition, error) {
	query := `SELECT ` + taskColumns + ` FROM periodic_tasks`
	var args []any

	if opts.EnabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name ASC`

	// SQLite requires LIMIT whenever OFFSET is used; -1 means unbounded.
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
		return nil, fmt.Errorf("periodic/sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Definition
	for rows.Next() {
		d, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("periodic/sqlite: scan task row: %w", err)
		}
		tasks = append(tasks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("periodic/sqlite: iterate task rows: %w", err)
	}
	return tasks, nil
}

// UpdateTask persists the caller-editable fields of a definition.
func (s *Store) UpdateTask(ctx context.Context, d *task.Definition) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE periodic_tasks SET
			name = ?, enabled = ?, schedule = ?, timezone = ?,
			task_type = ?, args = ?, queue = ?, priority = ?,
			allow_overlap = ?, next_due_at = ?, schedule_error = ?,
			updated_at = ?
		WHERE id = ?`,
		d.Name, d.Enabled, d.Schedule, d.Timezone,
		d.TaskType, d.Args, d.Queue, d.Priority,
		d.AllowOverlap, nullMillis(d.NextDueAt), d.ScheduleError,
		millis(time.Now()), d.ID.String(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return periodic.ErrDuplicateTask
		}
		return fmt.Errorf("periodic/sqlite: update task: %w", err)
	}
	return expectRow(res, periodic.ErrTaskNotFound)
}

// DeleteTask removes a definition by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM periodic_tasks WHERE id = ?`, taskID.String())
	if err != nil {
		return fmt.Errorf("periodic/sqlite: delete task: %w", err)
	}
	return expectRow(res, periodic.ErrTaskNotFound)
}

// FindNextDue claims the earliest due definition in one statement.
func (s *Store) FindNextDue(ctx context.Context, now time.Time, owner string, lockTTL time.Duration) (*task.Claim, error) {
	token := task.NewToken(owner)
	at := millis(now)
	row := s.db.QueryRowContext(ctx, `
		UPDATE periodic_tasks SET
			locked_by = ?, locked_until = ?, in_flight_job_id = '', updated_at = ?
		WHERE id = (
			SELECT id FROM periodic_tasks
			WHERE enabled = 1
			  AND schedule_error = ''
			  AND next_due_at IS NOT NULL
			  AND next_due_at <= ?
			  AND (locked_by = '' OR locked_until IS NULL OR locked_until < ?)
			ORDER BY next_due_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+taskColumns,
		token, millis(now.Add(lockTTL)), at, at, at,
	)

	d, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // nothing due
		}
		return nil, fmt.Errorf("periodic/sqlite: claim task: %w", err)
	}
	return &task.Claim{Task: d, Token: token, ClaimedAt: now, LockTTL: lockTTL}, nil
}

// PeekNextWake returns the earliest claimable time across definitions.
func (s *Store) PeekNextWake(ctx context.Context, now time.Time) (*time.Time, error) {
	var wake sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(
			CASE
				WHEN locked_by <> '' AND locked_until >= ? AND locked_until > next_due_at
				THEN locked_until
				ELSE next_due_at
			END)
		FROM periodic_tasks
		WHERE enabled = 1 AND schedule_error = '' AND next_due_at IS NOT NULL`,
		millis(now),
	).Scan(&wake)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: peek next wake: %w", err)
	}
	return fromNullMillis(wake), nil
}

// MarkSubmitted records a submission for a claim still held by its token.
func (s *Store) MarkSubmitted(ctx context.Context, claim *task.Claim, sub task.Submission) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE periodic_tasks SET
			last_submitted_at = ?,
			next_due_at = ?,
			locked_by = CASE WHEN allow_overlap = 1 THEN '' ELSE locked_by END,
			locked_until = CASE WHEN allow_overlap = 1 THEN NULL ELSE ? END,
			in_flight_job_id = CASE WHEN allow_overlap = 1 THEN '' ELSE ? END,
			updated_at = ?
		WHERE id = ? AND locked_by = ?`,
		millis(sub.SubmittedAt), nullMillis(sub.NextDueAt),
		millis(sub.SubmittedAt.Add(claim.LockTTL)), sub.JobID.String(),
		millis(time.Now()), claim.Task.ID.String(), claim.Token,
	)
	if err != nil {
		return fmt.Errorf("periodic/sqlite: mark submitted: %w", err)
	}
	return s.afterClaimUpdate(ctx, res, claim.Task.ID)
}

// MarkCompleted clears the in-flight marker for jobID.
func (s *Store) MarkCompleted(ctx context.Context, taskID id.TaskID, jobID id.JobID) error {
	if !jobID.IsNil() {
		res, err := s.db.ExecContext(ctx, `
			UPDATE periodic_tasks SET
				locked_by = '', locked_until = NULL, in_flight_job_id = '', updated_at = ?
			WHERE id = ? AND in_flight_job_id = ?`,
			millis(time.Now()), taskID.String(), jobID.String(),
		)
		if err != nil {
			return fmt.Errorf("periodic/sqlite: mark completed: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE periodic_tasks SET
			locked_by = '', locked_until = NULL, in_flight_job_id = '', updated_at = ?
		WHERE id = ? AND locked_by = ?`,
		millis(time.Now()), claim.Task.ID.String(), claim.Token,
	)
	if err != nil {
		return fmt.Errorf("periodic/sqlite: release claim: %w", err)
	}
	return s.afterClaimUpdate(ctx, res, claim.Task.ID)
}

// MarkInvalid flags a claimed definition and releases it.
func (s *Store) MarkInvalid(ctx context.Context, claim *task.Claim, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE periodic_tasks SET
			schedule_error = ?, next_due_at = NULL,
			locked_by = '', locked_until = NULL, in_flight_job_id = '', updated_at = ?
		WHERE id = ? AND locked_by = ?`,
		reason, millis(time.Now()), claim.Task.ID.String(), claim.Token,
	)
	if err != nil {
		return fmt.Errorf("periodic/sqlite: mark invalid: %w", err)
	}
	return s.afterClaimUpdate(ctx, res, claim.Task.ID)
}

// afterClaimUpdate maps a token-conditional update that matched no row to
// ErrTaskNotFound or ErrClaimLost.
func (s *Store) afterClaimUpdate(ctx context.Context, res sql.Result, taskID id.TaskID) error {
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
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
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM periodic_tasks WHERE id = ?)`,
		taskID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("periodic/sqlite: check task: %w", err)
	}
	return exists, nil
}

// expectRow returns notFound when res affected no rows.
func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func scanTask(row scanner) (*task.Definition, error) {
	var (
		d                                   task.Definition
		idStr, inFlight                     string
		lastSubmitted, nextDue, lockedUntil sql.NullInt64
		createdAt, updatedAt                int64
	)
	err := row.Scan(
		&idStr, &d.Name, &d.Enabled, &d.Schedule, &d.Timezone, &d.TaskType, &d.Args,
		&d.Queue, &d.Priority, &d.AllowOverlap,
		&lastSubmitted, &nextDue, &d.LockedBy, &lockedUntil,
		&inFlight, &d.ScheduleError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseTaskID(idStr)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: parse task id %q: %w", idStr, err)
	}
	d.ID = parsed
	if inFlight != "" {
		if jobID, err := id.ParseJobID(inFlight); err == nil {
			d.InFlightJobID = jobID
		}
	}

	d.LastSubmittedAt = fromNullMillis(lastSubmitted)
	d.NextDueAt = fromNullMillis(nextDue)
	d.LockedUntil = fromNullMillis(lockedUntil)
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return &d, nil
}
