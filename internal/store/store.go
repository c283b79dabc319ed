// Package store defines the coordination-store abstraction the fleet
// builds its distributed primitives on: locks, leader election, the
// work queue, and the config cache. The production implementation is
// Redis; MemStore provides an in-process fake for tests.
package store

import (
	"context"
	"time"
)

// SetOptions controls an individual Set call.
type SetOptions struct {
	// TTL expires the key after the given duration. Zero means no expiry.
	TTL time.Duration
	// NX only sets the key if it does not already exist.
	NX bool
}

// BRPopResult is the result of a blocking right-pop across one or more lists.
type BRPopResult struct {
	Key   string
	Value string
}

// Store is the coordination primitive surface the rest of the fleet is
// built on. It covers the Redis commands botburrow-agents' RedisClient
// wraps: strings with TTL/NX, counters, hashes, lists (including
// blocking pop), key scanning, and Lua script evaluation for the
// compare-and-delete / compare-and-expire patterns locks need.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, opts SetOptions) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) (*BRPopResult, error)
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HLen(ctx context.Context, key string) (int64, error)

	// Scan iterates all keys matching a glob pattern, invoking fn for
	// each. It stops early if fn returns false.
	Scan(ctx context.Context, pattern string, fn func(key string) bool) error

	// Eval runs a Lua script with the given keys and args, used for the
	// compare-and-delete / compare-and-expire lock primitives. It
	// returns the script's integer result.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (int64, error)

	Publish(ctx context.Context, channel, message string) error

	Ping(ctx context.Context) error
	Close() error
}
