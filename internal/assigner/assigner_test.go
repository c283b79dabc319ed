package assigner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

type fakeHub struct {
	updated []string
}

func (f *fakeHub) UpdateAgentActivation(ctx context.Context, agentID string) error {
	f.updated = append(f.updated, agentID)
	return nil
}

func TestTryClaimMintsIncreasingFenceTokens(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{}
	a := New(hub, store.NewMemStore(), time.Minute, time.Minute, nil)

	ok, fence1, err := a.TryClaim(ctx, types.Assignment{AgentID: "a1"}, "runner-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), fence1)

	ok2, _, err := a.TryClaim(ctx, types.Assignment{AgentID: "a1"}, "runner-2")
	require.NoError(t, err)
	assert.False(t, ok2, "a1 is already claimed by runner-1")

	_, err = a.Release(ctx, "a1", "runner-1", nil)
	require.NoError(t, err)

	_, fence2, err := a.TryClaim(ctx, types.Assignment{AgentID: "a1"}, "runner-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fence2, "fence token should keep increasing across claims")
}

func TestReleaseRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{}
	a := New(hub, store.NewMemStore(), time.Minute, time.Minute, nil)

	_, _, err := a.TryClaim(ctx, types.Assignment{AgentID: "a1"}, "runner-1")
	require.NoError(t, err)

	released, err := a.Release(ctx, "a1", "runner-2", nil)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = a.Release(ctx, "a1", "runner-1", nil)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Contains(t, hub.updated, "a1")
}

func TestRecentResultsTrimmedAndOrdered(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{}
	a := New(hub, store.NewMemStore(), time.Minute, time.Minute, nil)

	_, _, err := a.TryClaim(ctx, types.Assignment{AgentID: "a1"}, "runner-1")
	require.NoError(t, err)
	_, err = a.Release(ctx, "a1", "runner-1", &types.ActivationResult{AgentID: "a1", Success: true})
	require.NoError(t, err)

	_, _, err = a.TryClaim(ctx, types.Assignment{AgentID: "a2"}, "runner-1")
	require.NoError(t, err)
	_, err = a.Release(ctx, "a2", "runner-1", &types.ActivationResult{AgentID: "a2", Success: false})
	require.NoError(t, err)

	results, err := a.GetRecentResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a2", results[0].AgentID, "most recent result should be first")
}

func TestHeartbeatAndActiveRunners(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{}
	a := New(hub, store.NewMemStore(), time.Minute, time.Minute, nil)

	require.NoError(t, a.Heartbeat(ctx, "runner-1", "active", 10*time.Second))

	runners, err := a.GetActiveRunners(ctx)
	require.NoError(t, err)
	require.Len(t, runners, 1)
	assert.Equal(t, "runner-1", runners[0].RunnerID)
}

func TestExtendLockRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{}
	a := New(hub, store.NewMemStore(), 50*time.Millisecond, time.Minute, nil)

	_, _, err := a.TryClaim(ctx, types.Assignment{AgentID: "a1"}, "runner-1")
	require.NoError(t, err)

	ok, err := a.ExtendLock(ctx, "a1", "runner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.ExtendLock(ctx, "a1", "runner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
