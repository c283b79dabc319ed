package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

type fakeLoader struct {
	configs map[string]types.AgentConfig
	calls   int
}

func (f *fakeLoader) LoadAgentConfig(ctx context.Context, agentID string) (types.AgentConfig, error) {
	f.calls++
	cfg, ok := f.configs[agentID]
	if !ok {
		return types.AgentConfig{}, assert.AnError
	}
	return cfg, nil
}

func TestCacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore(), time.Minute, nil)

	_, ok, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)

	cfg := types.AgentConfig{AgentID: "a1", Name: "agent-one", Type: "claude_code"}
	require.NoError(t, c.Set(ctx, "a1", cfg, 0))

	got, ok, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agent-one", got.Name)
}

func TestInvalidateAll(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore(), time.Minute, nil)

	require.NoError(t, c.Set(ctx, "a1", types.AgentConfig{AgentID: "a1"}, 0))
	require.NoError(t, c.Set(ctx, "a2", types.AgentConfig{AgentID: "a2"}, 0))

	n, err := c.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrewarmSkipsAlreadyCached(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore(), time.Minute, nil)

	require.NoError(t, c.Set(ctx, "a1", types.AgentConfig{AgentID: "a1"}, 0))

	loader := &fakeLoader{configs: map[string]types.AgentConfig{
		"a1": {AgentID: "a1"},
		"a2": {AgentID: "a2"},
	}}

	n := c.Prewarm(ctx, []string{"a1", "a2"}, loader)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, loader.calls, "a1 was already cached and should not be reloaded")
}
