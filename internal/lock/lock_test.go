package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfleet/orchestrator/internal/store"
)

func TestLockAcquireRejectsSecondOwner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	l1 := New(st, "agent_lock:a1", "runner-1", time.Minute)
	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	l2 := New(st, "agent_lock:a1", "runner-2", time.Minute)
	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockReleaseRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	l1 := New(st, "agent_lock:a1", "runner-1", time.Minute)
	_, err := l1.Acquire(ctx)
	require.NoError(t, err)

	// A lock object that never acquired cannot release the real owner's lock.
	impostor := New(st, "agent_lock:a1", "runner-2", time.Minute)
	released, err := impostor.Release(ctx)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = l1.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	exists, err := st.Exists(ctx, "agent_lock:a1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLockExtend(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	l := New(st, "agent_lock:a1", "runner-1", 50*time.Millisecond)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := l.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	ttl, err := st.TTL(ctx, "agent_lock:a1")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Millisecond)
}

func TestTryWithLockRunsFnOnlyWhenAcquired(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	ran := false
	ok, err := TryWithLock(ctx, st, "agent_lock:a1", "runner-1", time.Minute, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ran)

	exists, err := st.Exists(ctx, "agent_lock:a1")
	require.NoError(t, err)
	assert.False(t, exists, "TryWithLock should release after fn returns")
}
