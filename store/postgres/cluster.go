package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/id"
)

const instanceColumns = `
	id, hostname, address, queues, concurrency, state, last_seen, metadata, created_at`

// RegisterInstance adds or replaces an instance in the registry.
func (s *Store) RegisterInstance(ctx context.Context, inst *cluster.Instance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO periodic_instances (`+instanceColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			address = EXCLUDED.address,
			queues = EXCLUDED.queues,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		inst.ID.String(), inst.Hostname, inst.Address, nonNil(inst.Queues),
		inst.Concurrency, string(inst.State), inst.LastSeen, inst.Metadata, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("periodic/postgres: register instance: %w", err)
	}
	return nil
}

// DeregisterInstance removes an instance from the registry.
func (s *Store) DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM periodic_instances WHERE id = $1`,
		instanceID.String(),
	)
	if err != nil {
		return fmt.Errorf("periodic/postgres: deregister instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return periodic.ErrInstanceNotFound
	}
	return nil
}

// HeartbeatInstance updates LastSeen and State for an instance.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID, state cluster.InstanceState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE periodic_instances SET last_seen = $2, state = $3 WHERE id = $1`,
		instanceID.String(), time.Now().UTC(), string(state),
	)
	if err != nil {
		return fmt.Errorf("periodic/postgres: heartbeat instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return periodic.ErrInstanceNotFound
	}
	return nil
}

// ListInstances returns all registered instances ordered by ID.
func (s *Store) ListInstances(ctx context.Context) ([]*cluster.Instance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM periodic_instances ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: list instances: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

// ReapDeadInstances removes and returns instances not seen within threshold.
func (s *Store) ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM periodic_instances WHERE last_seen < $1 RETURNING `+instanceColumns,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: reap dead instances: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

func scanInstance(row pgx.Row) (*cluster.Instance, error) {
	var (
		inst     cluster.Instance
		idStr    string
		stateStr string
	)
	err := row.Scan(
		&idStr, &inst.Hostname, &inst.Address, &inst.Queues,
		&inst.Concurrency, &stateStr, &inst.LastSeen, &inst.Metadata, &inst.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseInstanceID(idStr)
	if err != nil {
		return nil, fmt.Errorf("periodic/postgres: parse instance id %q: %w", idStr, err)
	}
	inst.ID = parsed
	inst.State = cluster.InstanceState(stateStr)
	utc(&inst.LastSeen)
	utc(&inst.CreatedAt)
	return &inst, nil
}

func collectInstances(rows pgx.Rows) ([]*cluster.Instance, error) {
	var instances []*cluster.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("periodic/postgres: scan instance row: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("periodic/postgres: iterate instance rows: %w", err)
	}
	return instances, nil
}
