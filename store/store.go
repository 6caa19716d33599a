// Package store defines the aggregate persistence interface. Each subsystem
// (task, job, cluster) defines its own store interface and the composite
// Store composes them all. Backends: Memory, Postgres, SQLite and Redis.
package store

import (
	"context"

	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/task"
)

// Store is the aggregate persistence interface.
// A single backend implements all subsystem stores.
type Store interface {
	task.Store
	job.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
