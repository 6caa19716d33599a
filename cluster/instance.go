package cluster

import (
	"time"

	"github.com/xraph/periodic/id"
)

// InstanceState represents the lifecycle state of a scheduler process.
type InstanceState string

const (
	// InstanceActive means the process is running its scheduler loop.
	InstanceActive InstanceState = "active"
	// InstanceDraining means the process is shutting down.
	InstanceDraining InstanceState = "draining"
)

// Instance is one scheduler process registered against the shared store.
type Instance struct {
	ID          id.InstanceID     `json:"id"`
	Hostname    string            `json:"hostname"`
	Address     string            `json:"address,omitempty"`
	Queues      []string          `json:"queues"`
	Concurrency int               `json:"concurrency"`
	State       InstanceState     `json:"state"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Alive reports whether the instance heartbeated within threshold of now.
func (i *Instance) Alive(now time.Time, threshold time.Duration) bool {
	return now.Sub(i.LastSeen) <= threshold
}
