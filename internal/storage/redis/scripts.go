package redis

import "github.com/redis/go-redis/v9"

// Each script touches a single job hash, so Redis runs it as one atomic step.
// Missing jobs return -1 so callers can map them to ErrJobNotFound.

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'num_pages', 1)
`)

// raiseScript sets ARGV[1] to ARGV[2] when the new value is larger.
var raiseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local candidate = tonumber(ARGV[2])
if candidate > current then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

var tryStopScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'stop_reason', ARGV[3])
return 1
`)
