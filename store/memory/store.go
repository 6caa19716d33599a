// Package memory provides a fully in-memory implementation of store.Store.
// It is safe for concurrent access and intended for tests, development and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/task"
)

// Compile-time checks. store.Store cannot be imported here without a cycle
// in tests, so each subsystem interface is verified individually.
var (
	_ task.Store    = (*Store)(nil)
	_ job.Store     = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// Store is an in-memory store. One mutex guards every map, which makes each
// method a single atomic step.
type Store struct {
	mu sync.RWMutex

	tasks     map[string]*task.Definition
	jobs      map[string]*job.Job
	instances map[string]*cluster.Instance
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		tasks:     make(map[string]*task.Definition),
		jobs:      make(map[string]*job.Job),
		instances: make(map[string]*cluster.Instance),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
