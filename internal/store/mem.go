package store

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemStore is an in-process fake of Store for unit tests. It implements
// the same expiry, NX, and list/hash semantics as Redis closely enough
// to exercise lock/queue/cache logic without a live server.
type MemStore struct {
	mu      sync.Mutex
	strings map[string]memEntry
	lists   map[string][]string
	hashes  map[string]map[string]string
	cond    *sync.Cond
}

type memEntry struct {
	value    string
	expireAt time.Time // zero means no expiry
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	m := &MemStore{
		strings: make(map[string]memEntry),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *MemStore) expired(e memEntry) bool {
	return !e.expireAt.IsZero() && time.Now().After(e.expireAt)
}

func (m *MemStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok || m.expired(e) {
		delete(m.strings, key)
		return "", NewNotFoundError(key)
	}
	return e.value, nil
}

func (m *MemStore) Set(ctx context.Context, key, value string, opts SetOptions) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.NX {
		if e, ok := m.strings[key]; ok && !m.expired(e) {
			return false, nil
		}
	}

	var expireAt time.Time
	if opts.TTL > 0 {
		expireAt = time.Now().Add(opts.TTL)
	}
	m.strings[key] = memEntry{value: value, expireAt: expireAt}
	return true, nil
}

func (m *MemStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.strings[k]; ok {
			delete(m.strings, k)
			n++
		}
		if _, ok := m.lists[k]; ok {
			delete(m.lists, k)
			n++
		}
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
		}
	}
	return n, nil
}

func (m *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	return ok && !m.expired(e), nil
}

func (m *MemStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	var n int64
	if ok && !m.expired(e) {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	m.strings[key] = memEntry{value: strconv.FormatInt(n, 10), expireAt: e.expireAt}
	return n, nil
}

func (m *MemStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok || m.expired(e) {
		return false, nil
	}
	e.expireAt = time.Now().Add(ttl)
	m.strings[key] = e
	return true, nil
}

func (m *MemStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok || m.expired(e) {
		return -2 * time.Second, nil
	}
	if e.expireAt.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(e.expireAt), nil
}

func (m *MemStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.lists[key] = append([]string{v}, m.lists[key]...)
	}
	m.cond.Broadcast()
	return int64(len(m.lists[key])), nil
}

func (m *MemStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	m.cond.Broadcast()
	return int64(len(m.lists[key])), nil
}

// BRPop pops the rightmost element from the first non-empty list among
// keys (in order), blocking up to timeout. A timeout of zero blocks
// until ctx is done.
func (m *MemStore) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (*BRPopResult, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		m.mu.Lock()
		for _, k := range keys {
			l := m.lists[k]
			if len(l) > 0 {
				v := l[len(l)-1]
				m.lists[k] = l[:len(l)-1]
				m.mu.Unlock()
				return &BRPopResult{Key: k, Value: v}, nil
			}
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, nil
		}
	}
}

func (m *MemStore) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *MemStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (m *MemStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > stop {
		m.lists[key] = nil
		return nil
	}
	m.lists[key] = append([]string(nil), l[start:stop+1]...)
	return nil
}

func (m *MemStore) hashOf(key string) map[string]string {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	return h
}

func (m *MemStore) HSet(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashOf(key)[field] = value
	return nil
}

func (m *MemStore) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", NewNotFoundError(key)
	}
	v, ok := h[field]
	if !ok {
		return "", NewNotFoundError(key)
	}
	return v, nil
}

func (m *MemStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, f := range fields {
		if _, ok := h[f]; ok {
			delete(h, f)
			n++
		}
	}
	return n, nil
}

func (m *MemStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashOf(key)
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *MemStore) HLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.hashes[key])), nil
}

func (m *MemStore) Scan(ctx context.Context, pattern string, fn func(key string) bool) error {
	m.mu.Lock()
	var keys []string
	for k, e := range m.strings {
		if m.expired(e) {
			continue
		}
		if ok, _ := filepath.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	for k := range m.hashes {
		if ok, _ := filepath.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()

	sort.Strings(keys)
	for _, k := range keys {
		if !fn(k) {
			return nil
		}
	}
	return nil
}

func (m *MemStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (int64, error) {
	switch script {
	case CompareDeleteScript:
		key, owner := keys[0], args[0].(string)
		m.mu.Lock()
		defer m.mu.Unlock()
		e, ok := m.strings[key]
		if !ok || m.expired(e) || e.value != owner {
			return 0, nil
		}
		delete(m.strings, key)
		return 1, nil
	case CompareExpireScript:
		key, owner := keys[0], args[0].(string)
		var ttlSeconds int64
		switch v := args[1].(type) {
		case int:
			ttlSeconds = int64(v)
		case int64:
			ttlSeconds = v
		case string:
			ttlSeconds, _ = strconv.ParseInt(v, 10, 64)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		e, ok := m.strings[key]
		if !ok || m.expired(e) || e.value != owner {
			return 0, nil
		}
		e.expireAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
		m.strings[key] = e
		return 1, nil
	default:
		return 0, NewInternalError(firstKey(keys), nil)
	}
}

func (m *MemStore) Publish(ctx context.Context, channel, message string) error {
	return nil
}

func (m *MemStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemStore) Close() error {
	return nil
}
