package cluster

import (
	"context"
	"time"

	"github.com/xraph/periodic/id"
)

// Store defines the persistence contract for the instance registry.
type Store interface {
	// RegisterInstance adds or replaces an instance in the registry.
	RegisterInstance(ctx context.Context, inst *Instance) error

	// DeregisterInstance removes an instance from the registry.
	DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error

	// HeartbeatInstance updates LastSeen and State for an instance.
	// Returns ErrInstanceNotFound if it is not registered.
	HeartbeatInstance(ctx context.Context, instanceID id.InstanceID, state InstanceState) error

	// ListInstances returns all registered instances.
	ListInstances(ctx context.Context) ([]*Instance, error)

	// ReapDeadInstances removes and returns instances whose LastSeen is
	// older than threshold.
	ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*Instance, error)
}
