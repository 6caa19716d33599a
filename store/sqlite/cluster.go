package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/id"
)

const instanceColumns = `
	id, hostname, address, queues, concurrency, state, last_seen, metadata, created_at`

// RegisterInstance adds or replaces an instance in the registry.
func (s *Store) RegisterInstance(ctx context.Context, inst *cluster.Instance) error {
	queues, err := json.Marshal(nonNil(inst.Queues))
	if err != nil {
		return fmt.Errorf("periodic/sqlite: encode queues: %w", err)
	}
	var metadata any
	if inst.Metadata != nil {
		b, err := json.Marshal(inst.Metadata)
		if err != nil {
			return fmt.Errorf("periodic/sqlite: encode metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO periodic_instances (`+instanceColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			address = excluded.address,
			queues = excluded.queues,
			concurrency = excluded.concurrency,
			state = excluded.state,
			last_seen = excluded.last_seen,
			metadata = excluded.metadata`,
		inst.ID.String(), inst.Hostname, inst.Address, string(queues),
		inst.Concurrency, string(inst.State), millis(inst.LastSeen), metadata, millis(inst.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("periodic/sqlite: register instance: %w", err)
	}
	return nil
}

// DeregisterInstance removes an instance from the registry.
func (s *Store) DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM periodic_instances WHERE id = ?`, instanceID.String())
	if err != nil {
		return fmt.Errorf("periodic/sqlite: deregister instance: %w", err)
	}
	return expectRow(res, periodic.ErrInstanceNotFound)
}

// HeartbeatInstance updates LastSeen and State for an instance.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID, state cluster.InstanceState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE periodic_instances SET last_seen = ?, state = ? WHERE id = ?`,
		millis(time.Now()), string(state), instanceID.String(),
	)
	if err != nil {
		return fmt.Errorf("periodic/sqlite: heartbeat instance: %w", err)
	}
	return expectRow(res, periodic.ErrInstanceNotFound)
}

// ListInstances returns all registered instances ordered by ID.
func (s *Store) ListInstances(ctx context.Context) ([]*cluster.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM periodic_instances ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: list instances: %w", err)
	}
	return collectInstances(rows)
}

// ReapDeadInstances removes and returns instances not seen within threshold.
func (s *Store) ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM periodic_instances WHERE last_seen < ? RETURNING `+instanceColumns,
		millis(time.Now().Add(-threshold)),
	)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: reap dead instances: %w", err)
	}
	return collectInstances(rows)
}

func scanInstance(row scanner) (*cluster.Instance, error) {
	var (
		inst                   cluster.Instance
		idStr, stateStr, queue string
		metadata               sql.NullString
		lastSeen, createdAt    int64
	)
	err := row.Scan(
		&idStr, &inst.Hostname, &inst.Address, &queue,
		&inst.Concurrency, &stateStr, &lastSeen, &metadata, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseInstanceID(idStr)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: parse instance id %q: %w", idStr, err)
	}
	inst.ID = parsed
	inst.State = cluster.InstanceState(stateStr)
	inst.LastSeen = fromMillis(lastSeen)
	inst.CreatedAt = fromMillis(createdAt)

	if err := json.Unmarshal([]byte(queue), &inst.Queues); err != nil {
		return nil, fmt.Errorf("periodic/sqlite: decode queues: %w", err)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &inst.Metadata); err != nil {
			return nil, fmt.Errorf("periodic/sqlite: decode metadata: %w", err)
		}
	}
	return &inst, nil
}

func collectInstances(rows *sql.Rows) ([]*cluster.Instance, error) {
	defer rows.Close()

	var instances []*cluster.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("periodic/sqlite: scan instance row: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("periodic/sqlite: iterate instance rows: %w", err)
	}
	return instances, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
