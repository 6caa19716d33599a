package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/task"
)

// CreateTask persists a new definition.
func (s *Store) CreateTask(ctx context.Context, d *task.Definition) error {
	taskID := d.ID.String()
	res, err := createTaskScript.Run(ctx, s.client,
		[]string{taskKey(taskID), taskNamesKey, taskDueKey, taskIDsKey},
		toArgs([]any{taskID, d.Name, dueScore(d)}, taskToMap(d))...,
	).Text()
	if err != nil {
		return fmt.Errorf("periodic/redis: create task: %w", err)
	}
	return scriptError(res, periodic.ErrTaskNotFound)
}

// GetTask retrieves a definition by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Definition, error) {
	vals, err := s.client.HGetAll(ctx, taskKey(taskID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: get task: %w", err)
	}
	if len(vals) == 0 {
		return nil, periodic.ErrTaskNotFound
	}
	return mapToTask(vals)
}

// ListTasks returns definitions ordered by name.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Definition, error) {
	ids, err := s.client.SMembers(ctx, taskIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: list tasks: %w", err)
	}

	hashes, err := s.fetchHashes(ctx, ids, taskKey)
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: list tasks: %w", err)
	}

	result := make([]*task.Definition, 0, len(hashes))
	for _, vals := range hashes {
		d, err := mapToTask(vals)
		if err != nil {
			return nil, err
		}
		if opts.EnabledOnly && !d.Enabled {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Name < result[k].Name })
	return paginate(result, opts.Offset, opts.Limit), nil
}

// UpdateTask persists the caller-editable fields of a definition.
func (s *Store) UpdateTask(ctx context.Context, d *task.Definition) error {
	taskID := d.ID.String()
	res, err := updateTaskScript.Run(ctx, s.client,
		[]string{taskKey(taskID), taskNamesKey, taskDueKey},
		toArgs([]any{taskID, d.Name, dueScore(d)}, editableTaskFields(d))...,
	).Text()
	if err != nil {
		return fmt.Errorf("periodic/redis: update task: %w", err)
	}
	return scriptError(res, periodic.ErrTaskNotFound)
}

// DeleteTask removes a definition by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	key := taskID.String()
	n, err := deleteTaskScript.Run(ctx, s.client,
		[]string{taskKey(key), taskNamesKey, taskDueKey, taskIDsKey},
		key,
	).Int()
	if err != nil {
		return fmt.Errorf("periodic/redis: delete task: %w", err)
	}
	if n == 0 {
		return periodic.ErrTaskNotFound
	}
	return nil
}

// FindNextDue claims the earliest due definition in one script call.
func (s *Store) FindNextDue(ctx context.Context, now time.Time, owner string, lockTTL time.Duration) (*task.Claim, error) {
	token := task.NewToken(owner)
	reply, err := claimTaskScript.Run(ctx, s.client,
		[]string{taskDueKey},
		ms(now), token, ms(now.Add(lockTTL)), taskKeyPrefix, ms(time.Now().UTC()),
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil //nolint:nilnil // nothing due
		}
		return nil, fmt.Errorf("periodic/redis: find next due: %w", err)
	}

	vals, err := pairsToMap(reply)
	if err != nil {
		return nil, err
	}
	d, err := mapToTask(vals)
	if err != nil {
		return nil, err
	}
	return &task.Claim{Task: d, Token: token, ClaimedAt: now, LockTTL: lockTTL}, nil
}

// PeekNextWake returns the earliest claimable time across definitions.
func (s *Store) PeekNextWake(ctx context.Context, now time.Time) (*time.Time, error) {
	at, err := peekWakeScript.Run(ctx, s.client,
		[]string{taskDueKey},
		ms(now), taskKeyPrefix,
	).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("periodic/redis: peek next wake: %w", err)
	}
	t := time.UnixMilli(at).UTC()
	return &t, nil
}

// MarkSubmitted records a submission for a claim still held by its token.
func (s *Store) MarkSubmitted(ctx context.Context, claim *task.Claim, sub task.Submission) error {
	taskID := claim.Task.ID.String()
	res, err := markSubmittedScript.Run(ctx, s.client,
		[]string{taskKey(taskID), taskDueKey},
		claim.Token, taskID, ms(sub.SubmittedAt), msPtr(sub.NextDueAt),
		ms(sub.SubmittedAt.Add(claim.LockTTL)), sub.JobID.String(), ms(time.Now().UTC()),
	).Text()
	if err != nil {
		return fmt.Errorf("periodic/redis: mark submitted: %w", err)
	}
	return scriptError(res, periodic.ErrTaskNotFound)
}

// MarkCompleted clears the in-flight marker for jobID.
func (s *Store) MarkCompleted(ctx context.Context, taskID id.TaskID, jobID id.JobID) error {
	res, err := markCompletedScript.Run(ctx, s.client,
		[]string{taskKey(taskID.String())},
		jobID.String(), ms(time.Now().UTC()),
	).Text()
	if err != nil {
		return fmt.Errorf("periodic/redis: mark completed: %w", err)
	}
	return scriptError(res, periodic.ErrTaskNotFound)
}

// Release rolls back a claim still held by its token.
func (s *Store) Release(ctx context.Context, claim *task.Claim) error {
	res, err := releaseScript.Run(ctx, s.client,
		[]string{taskKey(claim.Task.ID.String())},
		claim.Token, ms(time.Now().UTC()),
	).Text()
	if err != nil {
		return fmt.Errorf("periodic/redis: release: %w", err)
	}
	return scriptError(res, periodic.ErrTaskNotFound)
}

// MarkInvalid flags a claimed definition and releases it.
func (s *Store) MarkInvalid(ctx context.Context, claim *task.Claim, reason string) error {
	taskID := claim.Task.ID.String()
	res, err := markInvalidScript.Run(ctx, s.client,
		[]string{taskKey(taskID), taskDueKey},
		claim.Token, taskID, reason, ms(time.Now().UTC()),
	).Text()
	if err != nil {
		return fmt.Errorf("periodic/redis: mark invalid: %w", err)
	}
	return scriptError(res, periodic.ErrTaskNotFound)
}

// scriptError maps a script status reply to a sentinel error.
func scriptError(reply string, notFound error) error {
	switch reply {
	case replyOK:
		return nil
	case replyMissing:
		return notFound
	case replyLost:
		return periodic.ErrClaimLost
	case replyDup:
		if errors.Is(notFound, periodic.ErrJobNotFound) {
			return periodic.ErrJobAlreadyExists
		}
		return periodic.ErrDuplicateTask
	default:
		return fmt.Errorf("periodic/redis: unexpected script reply %q", reply)
	}
}

// fetchHashes loads the hashes for ids in one pipeline, skipping IDs whose
// hash has vanished since the index was read.
func (s *Store) fetchHashes(ctx context.Context, ids []string, key func(string) string) ([]map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, v := range ids {
		cmds[i] = pipe.HGetAll(ctx, key(v))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]map[string]string, 0, len(cmds))
	for _, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			continue
		}
		out = append(out, vals)
	}
	return out, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

