package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/task"
)

// CreateTask persists a new definition.
func (m *Store) CreateTask(_ context.Context, d *task.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := d.ID.String()
	if _, exists := m.tasks[key]; exists {
		return periodic.ErrDuplicateTask
	}
	if m.nameTaken(d.Name, key) {
		return periodic.ErrDuplicateTask
	}
	m.tasks[key] = d.Clone()
	return nil
}

// GetTask retrieves a definition by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, periodic.ErrTaskNotFound
	}
	return d.Clone(), nil
}

// ListTasks returns definitions ordered by name.
func (m *Store) ListTasks(_ context.Context, opts task.ListOpts) ([]*task.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*task.Definition, 0, len(m.tasks))
	for _, d := range m.tasks {
		if opts.EnabledOnly && !d.Enabled {
			continue
		}
		result = append(result, d.Clone())
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Name < result[k].Name })
	return paginate(result, opts.Offset, opts.Limit), nil
}

// UpdateTask persists the caller-editable fields of a definition.
func (m *Store) UpdateTask(_ context.Context, d *task.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := d.ID.String()
	cur, ok := m.tasks[key]
	if !ok {
		return periodic.ErrTaskNotFound
	}
	if m.nameTaken(d.Name, key) {
		return periodic.ErrDuplicateTask
	}

	upd := d.Clone()
	cur.Name = upd.Name
	cur.Enabled = upd.Enabled
	cur.Schedule = upd.Schedule
	cur.Timezone = upd.Timezone
	cur.TaskType = upd.TaskType
	cur.Args = upd.Args
	cur.Queue = upd.Queue
	cur.Priority = upd.Priority
	cur.AllowOverlap = upd.AllowOverlap
	cur.NextDueAt = upd.NextDueAt
	cur.ScheduleError = upd.ScheduleError
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteTask removes a definition by ID.
func (m *Store) DeleteTask(_ context.Context, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := taskID.String()
	if _, ok := m.tasks[key]; !ok {
		return periodic.ErrTaskNotFound
	}
	delete(m.tasks, key)
	return nil
}

// FindNextDue claims the earliest due definition under the store mutex.
func (m *Store) FindNextDue(_ context.Context, now time.Time, owner string, lockTTL time.Duration) (*task.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *task.Definition
	for _, d := range m.tasks {
		if !d.Due(now) {
			continue
		}
		if best == nil || earlier(d, best) {
			best = d
		}
	}
	if best == nil {
		return nil, nil //nolint:nilnil // nothing due
	}

	token := task.NewToken(owner)
	until := now.Add(lockTTL)
	best.LockedBy = token
	best.LockedUntil = &until
	best.InFlightJobID = id.Nil

	return &task.Claim{Task: best.Clone(), Token: token, ClaimedAt: now, LockTTL: lockTTL}, nil
}

func earlier(a, b *task.Definition) bool {
	if !a.NextDueAt.Equal(*b.NextDueAt) {
		return a.NextDueAt.Before(*b.NextDueAt)
	}
	return a.ID.String() < b.ID.String()
}

// PeekNextWake returns the earliest claimable time across definitions.
func (m *Store) PeekNextWake(_ context.Context, now time.Time) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *time.Time
	for _, d := range m.tasks {
		at := d.ClaimableAt(now)
		if at == nil {
			continue
		}
		if best == nil || at.Before(*best) {
			best = at
		}
	}
	return best, nil
}

// MarkSubmitted records a submission for a claim still held by its token.
func (m *Store) MarkSubmitted(_ context.Context, claim *task.Claim, sub task.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.held(claim)
	if err != nil {
		return err
	}

	at := sub.SubmittedAt
	d.LastSubmittedAt = &at
	d.NextDueAt = cloneTime(sub.NextDueAt)
	if d.AllowOverlap {
		clearLock(d)
		return nil
	}
	until := sub.SubmittedAt.Add(claim.LockTTL)
	d.LockedUntil = &until
	d.InFlightJobID = sub.JobID
	return nil
}

// MarkCompleted clears the in-flight marker for jobID.
func (m *Store) MarkCompleted(_ context.Context, taskID id.TaskID, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.tasks[taskID.String()]
	if !ok {
		return periodic.ErrTaskNotFound
	}
	if jobID.IsNil() || d.InFlightJobID != jobID {
		return nil
	}
	clearLock(d)
	return nil
}

// Release rolls back a claim still held by its token.
func (m *Store) Release(_ context.Context, claim *task.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.held(claim)
	if err != nil {
		return err
	}
	clearLock(d)
	return nil
}

// MarkInvalid flags a claimed definition and releases it.
func (m *Store) MarkInvalid(_ context.Context, claim *task.Claim, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.held(claim)
	if err != nil {
		return err
	}
	d.ScheduleError = reason
	d.NextDueAt = nil
	clearLock(d)
	return nil
}

// held returns the stored definition if claim's token still holds it.
// Callers must hold m.mu.
func (m *Store) held(claim *task.Claim) (*task.Definition, error) {
	d, ok := m.tasks[claim.Task.ID.String()]
	if !ok {
		return nil, periodic.ErrTaskNotFound
	}
	if d.LockedBy != claim.Token {
		return nil, periodic.ErrClaimLost
	}
	return d, nil
}

// nameTaken reports whether another definition already uses name.
// Callers must hold m.mu.
func (m *Store) nameTaken(name, exceptKey string) bool {
	for key, d := range m.tasks {
		if key != exceptKey && d.Name == name {
			return true
		}
	}
	return false
}

func clearLock(d *task.Definition) {
	d.LockedBy = ""
	d.LockedUntil = nil
	d.InFlightJobID = id.Nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
