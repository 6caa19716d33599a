package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
)

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return periodic.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// DequeueJobs claims up to limit ready jobs from the given queues.
func (m *Store) DequeueJobs(_ context.Context, queues []string, workerID string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != job.StatePending && j.State != job.StateRetrying {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		if !candidates[i].RunAt.Equal(candidates[k].RunAt) {
			return candidates[i].RunAt.Before(candidates[k].RunAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})
	candidates = paginate(candidates, 0, limit)

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		started := now
		j.State = job.StateRunning
		j.WorkerID = workerID
		j.StartedAt = &started
		j.HeartbeatAt = &started
		result[i] = j.Clone()
	}
	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, periodic.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return periodic.ErrJobNotFound
	}
	cp := j.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return periodic.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state, newest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if !opts.TaskID.IsNil() && j.TaskID != opts.TaskID {
			continue
		}
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() > result[k].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return periodic.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j.Clone())
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
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
