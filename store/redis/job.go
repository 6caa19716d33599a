package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
)

const (
	putCreate = "create"
	putUpdate = "update"
)

// EnqueueJob persists a new job and indexes it under its queue.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	if err := s.putJob(ctx, putCreate, j); err != nil {
		return fmt.Errorf("periodic/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit ready jobs, sets them to
// running and returns them. An empty queue list means every queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, workerID string, limit int) ([]*job.Job, error) {
	if len(queues) == 0 {
		all, err := s.client.SMembers(ctx, queuesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("periodic/redis: dequeue jobs: %w", err)
		}
		queues = all
	}
	if len(queues) == 0 || limit <= 0 {
		return nil, nil
	}

	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = pendingKey(q)
	}

	ids, err := dequeueScript.Run(ctx, s.client, keys,
		ms(time.Now().UTC()), limit, workerID, jobKeyPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: dequeue jobs: %w", err)
	}

	hashes, err := s.fetchHashes(ctx, ids, jobKey)
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: dequeue jobs: %w", err)
	}
	return collectJobs(hashes)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, periodic.ErrJobNotFound
	}
	return mapToJob(vals)
}

// UpdateJob persists changes to an existing job and re-indexes it.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	cp := j.Clone()
	cp.UpdatedAt = time.Now().UTC()
	if err := s.putJob(ctx, putUpdate, cp); err != nil {
		return fmt.Errorf("periodic/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	key := jobID.String()
	n, err := deleteJobScript.Run(ctx, s.client,
		[]string{jobKey(key), jobIDsKey},
		key, pendingKeyPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("periodic/redis: delete job: %w", err)
	}
	if n == 0 {
		return periodic.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, newest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.allJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: list jobs by state: %w", err)
	}

	result := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if !opts.TaskID.IsNil() && j.TaskID != opts.TaskID {
			continue
		}
		result = append(result, j)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID.String() > result[k].ID.String() })
	return paginate(result, opts.Offset, opts.Limit), nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ string) error {
	now := ms(time.Now().UTC())
	n, err := hsetIfExistsScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		"heartbeat_at", now, "updated_at", now,
	).Int()
	if err != nil {
		return fmt.Errorf("periodic/redis: heartbeat job: %w", err)
	}
	if n == 0 {
		return periodic.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	jobs, err := s.allJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: reap stale jobs: %w", err)
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range jobs {
		if j.State == job.StateRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.allJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("periodic/redis: count jobs: %w", err)
	}

	var count int64
	for _, j := range jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// putJob writes j and maintains the pending index in one script call.
func (s *Store) putJob(ctx context.Context, mode string, j *job.Job) error {
	jobID := j.ID.String()
	res, err := putJobScript.Run(ctx, s.client,
		[]string{jobKey(jobID), jobIDsKey, queuesKey},
		toArgs([]any{mode, jobID, pendingKeyPrefix, j.Queue, string(j.State), ms(j.RunAt)}, jobToMap(j))...,
	).Text()
	if err != nil {
		return err
	}
	return scriptError(res, periodic.ErrJobNotFound)
}

func (s *Store) allJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, err
	}
	hashes, err := s.fetchHashes(ctx, ids, jobKey)
	if err != nil {
		return nil, err
	}
	return collectJobs(hashes)
}

func collectJobs(hashes []map[string]string) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(hashes))
	for _, vals := range hashes {
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
