package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/id"
)

// RegisterInstance adds or replaces an instance.
func (m *Store) RegisterInstance(_ context.Context, inst *cluster.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inst
	cp.Queues = append([]string(nil), inst.Queues...)
	m.instances[inst.ID.String()] = &cp
	return nil
}

// DeregisterInstance removes an instance.
func (m *Store) DeregisterInstance(_ context.Context, instanceID id.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := instanceID.String()
	if _, ok := m.instances[key]; !ok {
		return periodic.ErrInstanceNotFound
	}
	delete(m.instances, key)
	return nil
}

// HeartbeatInstance updates LastSeen and State.
func (m *Store) HeartbeatInstance(_ context.Context, instanceID id.InstanceID, state cluster.InstanceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return periodic.ErrInstanceNotFound
	}
	inst.LastSeen = time.Now().UTC()
	inst.State = state
	return nil
}

// ListInstances returns all instances ordered by ID.
func (m *Store) ListInstances(_ context.Context) ([]*cluster.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		cp := *inst
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID.String() < result[k].ID.String() })
	return result, nil
}

// ReapDeadInstances removes and returns instances not seen within threshold.
func (m *Store) ReapDeadInstances(_ context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Instance
	for key, inst := range m.instances {
		if inst.LastSeen.Before(cutoff) {
			cp := *inst
			dead = append(dead, &cp)
			delete(m.instances, key)
		}
	}
	return dead, nil
}
