package scheduler

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
	notifications []types.Assignment
	stale         []types.Assignment
	health        map[string]types.BudgetHealth
	healthErr     error
}

func (f *fakeHub) GetAgentsWithNotifications(ctx context.Context) ([]types.Assignment, error) {
	return f.notifications, nil
}

func (f *fakeHub) GetStaleAgents(ctx context.Context, minStaleness time.Duration) ([]types.Assignment, error) {
	return f.stale, nil
}

func (f *fakeHub) GetBudgetHealth(ctx context.Context, agentID string) (types.BudgetHealth, error) {
	if f.healthErr != nil {
		return types.BudgetHealth{}, f.healthErr
	}
	return f.health[agentID], nil
}

func TestHybridPrefersNotificationsOverExploration(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{
		notifications: []types.Assignment{{AgentID: "a1", TaskType: types.TaskInbox}},
		stale:         []types.Assignment{{AgentID: "a2", TaskType: types.TaskDiscovery}},
		health:        map[string]types.BudgetHealth{"a2": {Healthy: true}},
	}
	s := New(hub, store.NewMemStore(), time.Minute, nil)

	a, err := s.GetNextAssignment(ctx, types.ModeHybrid)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a1", a.AgentID)
}

func TestHybridFallsBackToExplorationWhenNoNotifications(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{
		stale:  []types.Assignment{{AgentID: "a2", TaskType: types.TaskDiscovery}},
		health: map[string]types.BudgetHealth{"a2": {Healthy: true}},
	}
	s := New(hub, store.NewMemStore(), time.Minute, nil)

	a, err := s.GetNextAssignment(ctx, types.ModeHybrid)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a2", a.AgentID)
}

func TestExplorationSkipsLockedAgent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	_, err := st.Set(ctx, "agent_lock:a2", "runner-1", store.SetOptions{})
	require.NoError(t, err)

	hub := &fakeHub{
		stale:  []types.Assignment{{AgentID: "a2"}, {AgentID: "a3"}},
		health: map[string]types.BudgetHealth{"a3": {Healthy: true}},
	}
	s := New(hub, st, time.Minute, nil)

	a, err := s.GetNextAssignment(ctx, types.ModeExploration)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a3", a.AgentID)
}

func TestExplorationSkipsBudgetExceeded(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{
		stale: []types.Assignment{{AgentID: "a2"}, {AgentID: "a3"}},
		health: map[string]types.BudgetHealth{
			"a2": {Healthy: false},
			"a3": {Healthy: true},
		},
	}
	s := New(hub, store.NewMemStore(), time.Minute, nil)

	a, err := s.GetNextAssignment(ctx, types.ModeExploration)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a3", a.AgentID)
}

func TestExplorationFailsOpenOnBudgetCheckError(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{
		stale:     []types.Assignment{{AgentID: "a2"}},
		healthErr: assertError{},
	}
	s := New(hub, store.NewMemStore(), time.Minute, nil)

	a, err := s.GetNextAssignment(ctx, types.ModeExploration)
	require.NoError(t, err)
	require.NotNil(t, a, "a hub error checking budget should not block exploration")
	assert.Equal(t, "a2", a.AgentID)
}

type assertError struct{}

func (assertError) Error() string { return "simulated hub failure" }
