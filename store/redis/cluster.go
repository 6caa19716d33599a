package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/id"
)

// RegisterInstance adds or replaces an instance.
func (s *Store) RegisterInstance(ctx context.Context, inst *cluster.Instance) error {
	fields, err := instanceToMap(inst)
	if err != nil {
		return err
	}
	key := instanceKey(inst.ID.String())

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, instanceIDsKey, inst.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("periodic/redis: register instance: %w", err)
	}
	return nil
}

// DeregisterInstance removes an instance.
func (s *Store) DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error {
	key := instanceID.String()

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, instanceKey(key))
	pipe.SRem(ctx, instanceIDsKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("periodic/redis: deregister instance: %w", err)
	}
	if del.Val() == 0 {
		return periodic.ErrInstanceNotFound
	}
	return nil
}

// HeartbeatInstance updates LastSeen and State.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID, state cluster.InstanceState) error {
	n, err := hsetIfExistsScript.Run(ctx, s.client,
		[]string{instanceKey(instanceID.String())},
		"last_seen", ms(time.Now().UTC()), "state", string(state),
	).Int()
	if err != nil {
		return fmt.Errorf("periodic/redis: heartbeat instance: %w", err)
	}
	if n == 0 {
		return periodic.ErrInstanceNotFound
	}
	return nil
}

// ListInstances returns all instances ordered by ID.
func (s *Store) ListInstances(ctx context.Context) ([]*cluster.Instance, error) {
	ids, err := s.client.SMembers(ctx, instanceIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: list instances: %w", err)
	}
	hashes, err := s.fetchHashes(ctx, ids, instanceKey)
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: list instances: %w", err)
	}

	result := make([]*cluster.Instance, 0, len(hashes))
	for _, vals := range hashes {
		inst, err := mapToInstance(vals)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID.String() < result[k].ID.String() })
	return result, nil
}

// ReapDeadInstances removes and returns instances not seen within threshold.
// Each removal re-checks LastSeen, so an instance that heartbeats during
// the scan survives.
func (s *Store) ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	all, err := s.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Instance
	for _, inst := range all {
		if !inst.LastSeen.Before(cutoff) {
			continue
		}
		key := inst.ID.String()
		n, err := reapInstanceScript.Run(ctx, s.client,
			[]string{instanceKey(key), instanceIDsKey},
			key, ms(cutoff),
		).Int()
		if err != nil {
			return nil, fmt.Errorf("periodic/redis: reap dead instances: %w", err)
		}
		if n == 1 {
			dead = append(dead, inst)
		}
	}
	return dead, nil
}
