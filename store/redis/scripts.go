package redis

import goredis "github.com/redis/go-redis/v9"

// Script replies shared by the task and job scripts.
const (
	replyOK      = "ok"
	replyMissing = "missing"
	replyLost    = "lost"
	replyDup     = "dup"
)

// ── Task scripts ──

// KEYS: task, names, due, ids. ARGV: id, name, score ('' = not due), field/value pairs...
var createTaskScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 'dup' end
if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 1 then return 'dup' end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
if ARGV[3] ~= '' then redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1]) end
return 'ok'
`)

// KEYS: task, names, due. ARGV: id, name, score, field/value pairs...
var updateTaskScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
local owner = redis.call('HGET', KEYS[2], ARGV[2])
if owner and owner ~= ARGV[1] then return 'dup' end
local old = redis.call('HGET', KEYS[1], 'name')
if old and old ~= ARGV[2] then redis.call('HDEL', KEYS[2], old) end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
if ARGV[3] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
else
  redis.call('ZREM', KEYS[3], ARGV[1])
end
return 'ok'
`)

// KEYS: task, names, due, ids. ARGV: id.
var deleteTaskScript = goredis.NewScript(`
local name = redis.call('HGET', KEYS[1], 'name')
if not name then return 0 end
redis.call('DEL', KEYS[1])
redis.call('HDEL', KEYS[2], name)
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
return 1
`)

// KEYS: due. ARGV: now, token, locked_until, task key prefix, updated_at.
// Walks due candidates in (score, member) order and locks the first one
// without a live lock.
var claimTaskScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local offset = 0
while true do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', offset, 100)
  if #ids == 0 then return false end
  for _, id in ipairs(ids) do
    local key = ARGV[4] .. id
    local lock = redis.call('HMGET', key, 'locked_by', 'locked_until')
    local lu = tonumber(lock[2])
    if (not lock[1]) or lock[1] == '' or (not lu) or lu < now then
      redis.call('HSET', key, 'locked_by', ARGV[2], 'locked_until', ARGV[3], 'in_flight_job_id', '', 'updated_at', ARGV[5])
      return redis.call('HGETALL', key)
    end
  end
  offset = offset + #ids
end
`)

// KEYS: due. ARGV: now, task key prefix. Returns the earliest claimable
// time in Unix milliseconds, or nil.
var peekWakeScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local best = nil
local offset = 0
while true do
  local page = redis.call('ZRANGE', KEYS[1], offset, offset + 99, 'WITHSCORES')
  if #page == 0 then break end
  for i = 1, #page, 2 do
    local at = tonumber(page[i + 1])
    if best and at >= best then return best end
    local lock = redis.call('HMGET', ARGV[2] .. page[i], 'locked_by', 'locked_until')
    local lu = tonumber(lock[2])
    if lock[1] and lock[1] ~= '' and lu and lu >= now and lu > at then at = lu end
    if (not best) or at < best then best = at end
  end
  offset = offset + 100
end
if best then return best end
return false
`)

// KEYS: task, due. ARGV: token, id, submitted_at, next_due_at ('' = none),
// locked_until, job id, updated_at.
var markSubmittedScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
if redis.call('HGET', KEYS[1], 'locked_by') ~= ARGV[1] then return 'lost' end
redis.call('HSET', KEYS[1], 'last_submitted_at', ARGV[3], 'next_due_at', ARGV[4], 'updated_at', ARGV[7])
if redis.call('HGET', KEYS[1], 'allow_overlap') == '1' then
  redis.call('HSET', KEYS[1], 'locked_by', '', 'locked_until', '', 'in_flight_job_id', '')
else
  redis.call('HSET', KEYS[1], 'locked_until', ARGV[5], 'in_flight_job_id', ARGV[6])
end
local f = redis.call('HMGET', KEYS[1], 'enabled', 'schedule_error')
if ARGV[4] ~= '' and f[1] == '1' and ((not f[2]) or f[2] == '') then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
else
  redis.call('ZREM', KEYS[2], ARGV[2])
end
return 'ok'
`)

// KEYS: task. ARGV: job id, updated_at.
var markCompletedScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
if ARGV[1] ~= '' and redis.call('HGET', KEYS[1], 'in_flight_job_id') == ARGV[1] then
  redis.call('HSET', KEYS[1], 'locked_by', '', 'locked_until', '', 'in_flight_job_id', '', 'updated_at', ARGV[2])
end
return 'ok'
`)

// KEYS: task. ARGV: token, updated_at.
var releaseScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
if redis.call('HGET', KEYS[1], 'locked_by') ~= ARGV[1] then return 'lost' end
redis.call('HSET', KEYS[1], 'locked_by', '', 'locked_until', '', 'in_flight_job_id', '', 'updated_at', ARGV[2])
return 'ok'
`)

// KEYS: task, due. ARGV: token, id, reason, updated_at.
var markInvalidScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
if redis.call('HGET', KEYS[1], 'locked_by') ~= ARGV[1] then return 'lost' end
redis.call('HSET', KEYS[1], 'schedule_error', ARGV[3], 'next_due_at', '',
  'locked_by', '', 'locked_until', '', 'in_flight_job_id', '', 'updated_at', ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[2])
return 'ok'
`)

// ── Job scripts ──

// KEYS: job, job ids, queues. ARGV: mode ('create'|'update'), id, pending
// key prefix, queue, state, run_at, field/value pairs...
var putJobScript = goredis.NewScript(`
local exists = redis.call('EXISTS', KEYS[1]) == 1
if ARGV[1] == 'create' and exists then return 'dup' end
if ARGV[1] == 'update' and not exists then return 'missing' end
if exists then
  local oldq = redis.call('HGET', KEYS[1], 'queue')
  if oldq then redis.call('ZREM', ARGV[3] .. oldq, ARGV[2]) end
end
redis.call('HSET', KEYS[1], unpack(ARGV, 7))
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[4])
if ARGV[5] == 'pending' or ARGV[5] == 'retrying' then
  redis.call('ZADD', ARGV[3] .. ARGV[4], ARGV[6], ARGV[2])
end
return 'ok'
`)

// KEYS: job, job ids. ARGV: id, pending key prefix.
var deleteJobScript = goredis.NewScript(`
local q = redis.call('HGET', KEYS[1], 'queue')
if not q then return 0 end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('ZREM', ARGV[2] .. q, ARGV[1])
return 1
`)

// KEYS: pending sets to draw from. ARGV: now, limit, worker id, job key
// prefix. Returns the IDs of the dequeued jobs in dispatch order.
var dequeueScript = goredis.NewScript(`
local now = ARGV[1]
local cands = {}
for _, qk in ipairs(KEYS) do
  local ids = redis.call('ZRANGEBYSCORE', qk, '-inf', now)
  for _, id in ipairs(ids) do
    local f = redis.call('HMGET', ARGV[4] .. id, 'priority', 'run_at')
    table.insert(cands, {id = id, key = qk, prio = tonumber(f[1]) or 0, run = tonumber(f[2]) or 0})
  end
end
table.sort(cands, function(a, b)
  if a.prio ~= b.prio then return a.prio > b.prio end
  if a.run ~= b.run then return a.run < b.run end
  return a.id < b.id
end)
local out = {}
local n = math.min(tonumber(ARGV[2]), #cands)
for i = 1, n do
  local c = cands[i]
  redis.call('ZREM', c.key, c.id)
  redis.call('HSET', ARGV[4] .. c.id, 'state', 'running', 'worker_id', ARGV[3],
    'started_at', now, 'heartbeat_at', now, 'updated_at', now)
  table.insert(out, c.id)
end
return out
`)

// ── Shared scripts ──

// KEYS: hash. ARGV: field/value pairs. Writes only when the hash exists.
var hsetIfExistsScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// KEYS: instance, instance ids. ARGV: id, cutoff. Deletes the instance
// only if it is still older than cutoff.
var reapInstanceScript = goredis.NewScript(`
local ls = tonumber(redis.call('HGET', KEYS[1], 'last_seen'))
if ls and ls < tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[1])
  return 1
end
return 0
`)
