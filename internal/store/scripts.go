package store

// CompareDeleteScript deletes KEYS[1] only if its current value equals
// ARGV[1], so a lock (or leader key) is only released by its owner.
// Lifted verbatim in spirit from the reference RedisLock.release Lua
// script; kept as a named constant so RedisStore and MemStore agree on
// exactly what "eval" means without parsing Lua in the fake.
const CompareDeleteScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
else
	return 0
end
`

// CompareExpireScript refreshes KEYS[1]'s TTL to ARGV[2] seconds only if
// its current value equals ARGV[1], so only the owner can extend a lock.
const CompareExpireScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('expire', KEYS[1], ARGV[2])
else
	return 0
end
`
