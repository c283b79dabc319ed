package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreSetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	ok, err := m.Set(ctx, "agent_lock:a1", "runner-1", SetOptions{NX: true, TTL: time.Minute})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Set(ctx, "agent_lock:a1", "runner-2", SetOptions{NX: true, TTL: time.Minute})
	require.NoError(t, err)
	assert.False(t, ok, "second NX set should not win while the key is held")

	v, err := m.Get(ctx, "agent_lock:a1")
	require.NoError(t, err)
	assert.Equal(t, "runner-1", v)
}

func TestMemStoreCompareDeleteScript(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	_, err := m.Set(ctx, "k", "owner-a", SetOptions{})
	require.NoError(t, err)

	n, err := m.Eval(ctx, CompareDeleteScript, []string{"k"}, "owner-b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "wrong owner must not delete")

	n, err = m.Eval(ctx, CompareDeleteScript, []string{"k"}, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemStoreExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	_, err := m.Set(ctx, "k", "v", SetOptions{TTL: 10 * time.Millisecond})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = m.Get(ctx, "k")
	assert.True(t, IsNotFound(err))
}

func TestMemStoreBRPopOrdersByKeyPriority(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	_, err := m.LPush(ctx, "queue:normal", "normal-item")
	require.NoError(t, err)
	_, err = m.LPush(ctx, "queue:high", "high-item")
	require.NoError(t, err)

	res, err := m.BRPop(ctx, time.Second, "queue:high", "queue:normal", "queue:low")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "queue:high", res.Key)
	assert.Equal(t, "high-item", res.Value)
}

func TestMemStoreBRPopTimesOut(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	res, err := m.BRPop(ctx, 30*time.Millisecond, "queue:empty")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMemStoreHashCircuitBreakerCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	n, err := m.HIncrBy(ctx, "work:failures", "agent-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.HIncrBy(ctx, "work:failures", "agent-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
