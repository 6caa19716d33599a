package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/task"
)

// Times are stored as Unix milliseconds so Lua scripts can compare them;
// an empty string stands for an absent time.

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func msPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return ms(*t)
}

func parseMs(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func parseMsPtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseMs(s)
	return &t
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s) //nolint:errcheck // zero for absent fields
	return n
}

// toArgs flattens field/value pairs into script arguments.
func toArgs(head []any, fields map[string]string) []any {
	args := make([]any, 0, len(head)+2*len(fields))
	args = append(args, head...)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// pairsToMap converts an HGETALL reply returned from a script.
func pairsToMap(reply any) (map[string]string, error) {
	items, ok := reply.([]any)
	if !ok || len(items)%2 != 0 {
		return nil, fmt.Errorf("periodic/redis: unexpected script reply %T", reply)
	}
	m := make(map[string]string, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		k, _ := items[i].(string)
		v, _ := items[i+1].(string)
		m[k] = v
	}
	return m, nil
}

// ── Tasks ──

// dueScore returns the due Sorted Set score for d, or "" when d must not
// be a claim candidate.
func dueScore(d *task.Definition) string {
	if !d.Enabled || d.ScheduleError != "" || d.NextDueAt == nil {
		return ""
	}
	return ms(*d.NextDueAt)
}

// editableTaskFields returns the fields UpdateTask may overwrite.
func editableTaskFields(d *task.Definition) map[string]string {
	return map[string]string{
		"name":           d.Name,
		"enabled":        flag(d.Enabled),
		"schedule":       d.Schedule,
		"timezone":       d.Timezone,
		"task_type":      d.TaskType,
		"args":           string(d.Args),
		"queue":          d.Queue,
		"priority":       strconv.Itoa(d.Priority),
		"allow_overlap":  flag(d.AllowOverlap),
		"next_due_at":    msPtr(d.NextDueAt),
		"schedule_error": d.ScheduleError,
		"updated_at":     ms(time.Now().UTC()),
	}
}

func taskToMap(d *task.Definition) map[string]string {
	m := editableTaskFields(d)
	m["id"] = d.ID.String()
	m["last_submitted_at"] = msPtr(d.LastSubmittedAt)
	m["locked_by"] = d.LockedBy
	m["locked_until"] = msPtr(d.LockedUntil)
	m["in_flight_job_id"] = d.InFlightJobID.String()
	m["created_at"] = ms(d.CreatedAt)
	m["updated_at"] = ms(d.UpdatedAt)
	return m
}

func mapToTask(m map[string]string) (*task.Definition, error) {
	taskID, err := id.ParseTaskID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: parse task id %q: %w", m["id"], err)
	}

	d := &task.Definition{
		Entity: periodic.Entity{
			CreatedAt: parseMs(m["created_at"]),
			UpdatedAt: parseMs(m["updated_at"]),
		},
		ID:              taskID,
		Name:            m["name"],
		Enabled:         m["enabled"] == "1",
		Schedule:        m["schedule"],
		Timezone:        m["timezone"],
		TaskType:        m["task_type"],
		Queue:           m["queue"],
		Priority:        atoi(m["priority"]),
		AllowOverlap:    m["allow_overlap"] == "1",
		LastSubmittedAt: parseMsPtr(m["last_submitted_at"]),
		NextDueAt:       parseMsPtr(m["next_due_at"]),
		LockedBy:        m["locked_by"],
		LockedUntil:     parseMsPtr(m["locked_until"]),
		ScheduleError:   m["schedule_error"],
	}
	if args := m["args"]; args != "" {
		d.Args = []byte(args)
	}
	if s := m["in_flight_job_id"]; s != "" {
		if jobID, err := id.ParseJobID(s); err == nil {
			d.InFlightJobID = jobID
		}
	}
	return d, nil
}

// ── Jobs ──

func jobToMap(j *job.Job) map[string]string {
	return map[string]string{
		"id":           j.ID.String(),
		"task_type":    j.TaskType,
		"queue":        j.Queue,
		"args":         string(j.Args),
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"max_retries":  strconv.Itoa(j.MaxRetries),
		"retry_count":  strconv.Itoa(j.RetryCount),
		"last_error":   j.LastError,
		"task_id":      j.TaskID.String(),
		"worker_id":    j.WorkerID,
		"submitted_at": ms(j.SubmittedAt),
		"run_at":       ms(j.RunAt),
		"started_at":   msPtr(j.StartedAt),
		"completed_at": msPtr(j.CompletedAt),
		"heartbeat_at": msPtr(j.HeartbeatAt),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   ms(j.CreatedAt),
		"updated_at":   ms(j.UpdatedAt),
	}
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jobID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: parse job id %q: %w", m["id"], err)
	}

	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // zero for absent timeout
	j := &job.Job{
		Entity: periodic.Entity{
			CreatedAt: parseMs(m["created_at"]),
			UpdatedAt: parseMs(m["updated_at"]),
		},
		ID:          jobID,
		TaskType:    m["task_type"],
		Queue:       m["queue"],
		State:       job.State(m["state"]),
		Priority:    atoi(m["priority"]),
		MaxRetries:  atoi(m["max_retries"]),
		RetryCount:  atoi(m["retry_count"]),
		LastError:   m["last_error"],
		WorkerID:    m["worker_id"],
		SubmittedAt: parseMs(m["submitted_at"]),
		RunAt:       parseMs(m["run_at"]),
		StartedAt:   parseMsPtr(m["started_at"]),
		CompletedAt: parseMsPtr(m["completed_at"]),
		HeartbeatAt: parseMsPtr(m["heartbeat_at"]),
		Timeout:     time.Duration(timeout),
	}
	if args := m["args"]; args != "" {
		j.Args = []byte(args)
	}
	if s := m["task_id"]; s != "" {
		if taskID, err := id.ParseTaskID(s); err == nil {
			j.TaskID = taskID
		}
	}
	return j, nil
}

// ── Instances ──

func instanceToMap(inst *cluster.Instance) (map[string]string, error) {
	queues, err := json.Marshal(nonNil(inst.Queues))
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: marshal queues: %w", err)
	}
	meta, err := json.Marshal(inst.Metadata)
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: marshal metadata: %w", err)
	}
	return map[string]string{
		"id":          inst.ID.String(),
		"hostname":    inst.Hostname,
		"address":     inst.Address,
		"queues":      string(queues),
		"concurrency": strconv.Itoa(inst.Concurrency),
		"state":       string(inst.State),
		"last_seen":   ms(inst.LastSeen),
		"metadata":    string(meta),
		"created_at":  ms(inst.CreatedAt),
	}, nil
}

func mapToInstance(m map[string]string) (*cluster.Instance, error) {
	instID, err := id.ParseInstanceID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("periodic/redis: parse instance id %q: %w", m["id"], err)
	}
	inst := &cluster.Instance{
		ID:          instID,
		Hostname:    m["hostname"],
		Address:     m["address"],
		Concurrency: atoi(m["concurrency"]),
		State:       cluster.InstanceState(m["state"]),
		LastSeen:    parseMs(m["last_seen"]),
		CreatedAt:   parseMs(m["created_at"]),
	}
	if err := json.Unmarshal([]byte(m["queues"]), &inst.Queues); err != nil {
		return nil, fmt.Errorf("periodic/redis: unmarshal queues: %w", err)
	}
	if raw := m["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &inst.Metadata); err != nil {
			return nil, fmt.Errorf("periodic/redis: unmarshal metadata: %w", err)
		}
	}
	return inst, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
