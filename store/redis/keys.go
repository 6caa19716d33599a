package redis

// Redis key naming conventions for periodic data. Every key shares the
// "{periodic}" hash tag, so on a Redis Cluster they all live in one slot
// and the Lua scripts may touch keys they derive themselves.

const keyPrefix = "{periodic}:"

// ── Task keys ──

// taskKeyPrefix prefixes task Hashes; scripts append the task ID.
const taskKeyPrefix = keyPrefix + "task:"

// taskKey returns the Hash key for a task definition: {periodic}:task:{id}
func taskKey(id string) string { return taskKeyPrefix + id }

// taskIDsKey is the Set tracking all task IDs for enumeration.
const taskIDsKey = keyPrefix + "task_ids"

// taskNamesKey maps task names to IDs for duplicate detection.
const taskNamesKey = keyPrefix + "task_names"

// taskDueKey is the Sorted Set of claim candidates scored by NextDueAt in
// Unix milliseconds. It holds only enabled, valid definitions with a due
// time. Equal scores order by member, which is the task ID.
const taskDueKey = keyPrefix + "task_due"

// ── Job keys ──

// jobKeyPrefix prefixes job Hashes.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the Hash key for a job: {periodic}:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// pendingKeyPrefix prefixes per-queue pending Sorted Sets.
const pendingKeyPrefix = keyPrefix + "pending:"

// pendingKey returns the Sorted Set of pending and retrying jobs for a
// queue, scored by RunAt in Unix milliseconds.
func pendingKey(queue string) string { return pendingKeyPrefix + queue }

// queuesKey is the Set of every queue name a job was enqueued to.
const queuesKey = keyPrefix + "queues"

// ── Cluster keys ──

// instanceKey returns the Hash key for a scheduler instance.
func instanceKey(id string) string { return keyPrefix + "instance:" + id }

// instanceIDsKey is the Set tracking all instance IDs for enumeration.
const instanceIDsKey = keyPrefix + "instance_ids"
