package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

func TestEnqueueClaimRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemStore(), nil)

	item := Item{AgentID: "a1", AgentName: "agent-one", TaskType: types.TaskInbox, Priority: "high"}
	ok, err := q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	assert.True(t, ok)

	claimed, err := q.Claim(ctx, "runner-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "a1", claimed.AgentID)
}

func TestEnqueueDeduplicatesActiveAgent(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemStore(), nil)

	item := Item{AgentID: "a1", Priority: "normal"}
	_, err := q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "runner-1", time.Second)
	require.NoError(t, err)

	ok, err := q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	assert.False(t, ok, "agent already has an active task")
}

func TestPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemStore(), nil)

	_, err := q.Enqueue(ctx, Item{AgentID: "low", Priority: "low"}, false)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Item{AgentID: "normal", Priority: "normal"}, false)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Item{AgentID: "high", Priority: "high"}, false)
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, "runner-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "high", claimed.AgentID)
}

func TestCircuitBreakerBacksOffAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemStore(), nil, WithCircuitBreaker(2, time.Second, 10*time.Second))

	item := Item{AgentID: "flaky", Priority: "normal"}
	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, item, false)
		require.NoError(t, err)
		claimed, err := q.Claim(ctx, "runner-1", time.Second)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, *claimed, false))
	}

	ok, err := q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	assert.False(t, ok, "agent should be in backoff after hitting max failures")
}

func TestClearBackoffAllowsReenqueue(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemStore(), nil, WithCircuitBreaker(1, time.Minute, 10*time.Minute))

	item := Item{AgentID: "flaky", Priority: "normal"}
	_, err := q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, "runner-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, *claimed, false))

	require.NoError(t, q.ClearBackoff(ctx, "flaky"))

	ok, err := q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemStore(), nil)

	_, err := q.Enqueue(ctx, Item{AgentID: "a1", Priority: "high"}, false)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Item{AgentID: "a2", Priority: "normal"}, false)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalQueued)
	assert.Equal(t, int64(1), stats.QueueHigh)
	assert.Equal(t, int64(1), stats.QueueNormal)
}
