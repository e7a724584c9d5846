package redis

import "github.com/gomodule/redigo/redis"

// activateScript first puts every activated job whose deadline in the
// deadlines set (KEYS[3]) is at or before ARGV[2] back at the head of the
// queue (KEYS[1]). It then moves up to ARGV[1] messages from the queue into
// the activated hash (KEYS[2]) keyed by job key, and returns them. When
// ARGV[3] is not zero it is recorded as the deadline of each activated job.
// Messages without a decodable key are appended to the failed list
// (KEYS[4]) and not returned.
var activateScript = redis.NewScript(4, `
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[2])
for _, key in ipairs(expired) do
	local message = redis.call('HGET', KEYS[2], key)
	if message then
		redis.call('HDEL', KEYS[2], key)
		redis.call('LPUSH', KEYS[1], message)
	end
	redis.call('ZREM', KEYS[3], key)
end

local max = tonumber(ARGV[1])
local deadline = tonumber(ARGV[3])
local messages = {}
while #messages < max do
	local message = redis.call('LPOP', KEYS[1])
	if not message then
		break
	end
	local ok, decoded = pcall(cjson.decode, message)
	if ok and type(decoded) == 'table' and type(decoded['key']) == 'string' and decoded['key'] ~= '' then
		local key = decoded['key']
		redis.call('HSET', KEYS[2], key, message)
		if deadline > 0 then
			redis.call('ZADD', KEYS[3], deadline, key)
		end
		messages[#messages + 1] = message
	else
		redis.call('RPUSH', KEYS[4], cjson.encode({
			code = ARGV[4],
			message = 'job message has no key',
			raw = message,
		}))
	end
end
return messages
`)

// completeScript removes job ARGV[1] from the activated hash (KEYS[1]) and
// the deadlines set (KEYS[2]). A non-empty ARGV[2] is stored as the job's
// result variables in the results hash (KEYS[3]). Returns 0 when the job
// was not activated.
var completeScript = redis.NewScript(3, `
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[2] ~= '' then
	redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
end
return 1
`)

// failScript removes job ARGV[1] from the activated hash (KEYS[1]) and the
// deadlines set (KEYS[2]), and appends the failure entry ARGV[2] to the
// failed list (KEYS[3]).
var failScript = redis.NewScript(3, `
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('RPUSH', KEYS[3], ARGV[2])
return 1
`)

// releaseScript moves job ARGV[1] from the activated hash (KEYS[1]) back to
// the head of the queue (KEYS[2]) and drops its deadline (KEYS[3]).
var releaseScript = redis.NewScript(3, `
local message = redis.call('HGET', KEYS[1], ARGV[1])
if not message then
	return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('LPUSH', KEYS[2], message)
return 1
`)
