// Package lock implements a distributed mutex on top of the
// coordination store, used to give a single runner exclusive hold of an
// agent for the duration of its activation.
//
// It mirrors RedisLock from the reference implementation: acquire via
// SET NX EX, release and extend via compare-and-delete / compare-and-
// expire Lua scripts so a lock can only be released or renewed by the
// owner that acquired it.
package lock

import (
	"context"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/store"
)

// Lock is a single distributed lock attempt against one key.
type Lock struct {
	st       store.Store
	key      string
	owner    string
	ttl      time.Duration
	acquired bool
}

// New returns an unacquired Lock for key, owned by owner, with the
// given TTL. Call Acquire to attempt to take it.
func New(st store.Store, key, owner string, ttl time.Duration) *Lock {
	return &Lock{st: st, key: key, owner: owner, ttl: ttl}
}

// Acquire attempts to take the lock, returning whether it succeeded.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.st.Set(ctx, l.key, l.owner, store.SetOptions{NX: true, TTL: l.ttl})
	if err != nil {
		return false, err
	}
	l.acquired = ok
	return ok, nil
}

// Release gives up the lock if this Lock instance still owns it. It is
// a no-op if Acquire was never called or did not succeed.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	if !l.acquired {
		return false, nil
	}
	n, err := l.st.Eval(ctx, store.CompareDeleteScript, []string{l.key}, l.owner)
	if err != nil {
		return false, err
	}
	released := n == 1
	if released {
		l.acquired = false
	}
	return released, nil
}

// Extend refreshes the lock's TTL if this Lock instance still owns it.
// additionalTTL of zero reuses the original TTL.
func (l *Lock) Extend(ctx context.Context, additionalTTL time.Duration) (bool, error) {
	if !l.acquired {
		return false, nil
	}
	ttl := additionalTTL
	if ttl <= 0 {
		ttl = l.ttl
	}
	n, err := l.st.Eval(ctx, store.CompareExpireScript, []string{l.key}, l.owner, int64(ttl/time.Second))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Acquired reports whether this Lock instance currently believes it
// holds the lock. It is not re-verified against the store.
func (l *Lock) Acquired() bool {
	return l.acquired
}

// Key returns the lock's coordination-store key.
func (l *Lock) Key() string {
	return l.key
}

// TryWithLock acquires key, runs fn if successful, and always releases
// afterward. It returns whether the lock was acquired and any error
// from fn or from the store.
func TryWithLock(ctx context.Context, st store.Store, key, owner string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	l := New(st, key, owner, ttl)
	ok, err := l.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() { _, _ = l.Release(ctx) }()

	return true, fn(ctx)
}
