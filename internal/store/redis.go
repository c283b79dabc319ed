package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a Redis-compatible server, using
// redis/go-redis/v9. Key naming and command choices mirror the Python
// RedisClient in the reference implementation: SET NX EX for locks,
// lists for queues, hashes for counters and tracking state.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses url (e.g. redis://host:6379/0) and connects,
// verifying reachability with a PING before returning.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, NewUnavailableError("", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", NewNotFoundError(key)
	}
	if err != nil {
		return "", NewInternalError(key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, opts SetOptions) (bool, error) {
	args := &redis.SetArgs{}
	if opts.TTL > 0 {
		args.TTL = opts.TTL
	}
	if opts.NX {
		args.Mode = "NX"
	}
	res, err := s.client.SetArgs(ctx, key, value, *args).Result()
	if errors.Is(err, redis.Nil) {
		// NX set that did not win the race is not an error.
		return false, nil
	}
	if err != nil {
		return false, NewInternalError(key, err)
	}
	return res == "OK", nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, NewInternalError(firstKey(keys), err)
	}
	return n, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, NewInternalError(key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, NewInternalError(key, err)
	}
	return n, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, NewInternalError(key, err)
	}
	return ok, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, NewInternalError(key, err)
	}
	return d, nil
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	n, err := s.client.LPush(ctx, key, toAny(values)...).Result()
	if err != nil {
		return 0, NewInternalError(key, err)
	}
	return n, nil
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	n, err := s.client.RPush(ctx, key, toAny(values)...).Result()
	if err != nil {
		return 0, NewInternalError(key, err)
	}
	return n, nil
}

func (s *RedisStore) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (*BRPopResult, error) {
	res, err := s.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, NewInternalError(firstKey(keys), err)
	}
	if len(res) != 2 {
		return nil, NewInternalError(firstKey(keys), fmt.Errorf("unexpected BRPOP reply: %v", res))
	}
	return &BRPopResult{Key: res[0], Value: res[1]}, nil
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, NewInternalError(key, err)
	}
	return n, nil
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, NewInternalError(key, err)
	}
	return vals, nil
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return NewInternalError(key, err)
	}
	return nil
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return NewInternalError(key, err)
	}
	return nil
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", NewNotFoundError(key)
	}
	if err != nil {
		return "", NewInternalError(key, err)
	}
	return v, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, NewInternalError(key, err)
	}
	return m, nil
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := s.client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, NewInternalError(key, err)
	}
	return n, nil
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, NewInternalError(key, err)
	}
	return n, nil
}

func (s *RedisStore) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return 0, NewInternalError(key, err)
	}
	return n, nil
}

func (s *RedisStore) Scan(ctx context.Context, pattern string, fn func(key string) bool) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return NewInternalError(pattern, err)
		}
		for _, k := range keys {
			if !fn(k) {
				return nil
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (int64, error) {
	res, err := s.client.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		return 0, NewInternalError(firstKey(keys), err)
	}
	n, ok := res.(int64)
	if !ok {
		return 0, NewInternalError(firstKey(keys), fmt.Errorf("unexpected eval result type %T", res))
	}
	return n, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		return NewInternalError(channel, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return NewUnavailableError("", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func firstKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
