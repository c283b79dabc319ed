package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfleet/orchestrator/internal/assigner"
	"github.com/kestrelfleet/orchestrator/internal/cache"
	"github.com/kestrelfleet/orchestrator/internal/metrics"
	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/runner/executor"
	"github.com/kestrelfleet/orchestrator/internal/sandbox"
	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

type fakeHub struct {
	healthy      bool
	cfg          types.AgentConfig
	loadErr      error
	activated    []string
	consumptions []types.ActivationResult
}

func (f *fakeHub) GetBudgetHealth(ctx context.Context, agentID string) (types.BudgetHealth, error) {
	return types.BudgetHealth{Healthy: f.healthy, DailyLimit: 10, DailyUsed: 1, MonthlyLimit: 100, MonthlyUsed: 1}, nil
}

func (f *fakeHub) UpdateAgentActivation(ctx context.Context, agentID string) error {
	f.activated = append(f.activated, agentID)
	return nil
}

func (f *fakeHub) LoadAgentConfig(ctx context.Context, agentID string) (types.AgentConfig, error) {
	if f.loadErr != nil {
		return types.AgentConfig{}, f.loadErr
	}
	cfg := f.cfg
	cfg.AgentID = agentID
	return cfg, nil
}

func (f *fakeHub) ReportConsumption(ctx context.Context, agentID string, tokensInput, tokensOutput int, costUSD float64) error {
	f.consumptions = append(f.consumptions, types.ActivationResult{AgentID: agentID, TokensInput: tokensInput, TokensOutput: tokensOutput})
	return nil
}

type fakeSandbox struct {
	started bool
	stopped bool
	output  []byte
}

func (s *fakeSandbox) Start(ctx context.Context, agentName string) error { s.started = true; return nil }
func (s *fakeSandbox) Execute(ctx context.Context, input []byte) ([]byte, error) {
	return s.output, nil
}
func (s *fakeSandbox) Stop(ctx context.Context) error { s.stopped = true; return nil }

func newTestRunner(t *testing.T, hub *fakeHub) (*Runner, *queue.Queue, *fakeSandbox) {
	t.Helper()
	st := store.NewMemStore()
	q := queue.New(st, nil)
	a := assigner.New(hub, st, time.Minute, time.Minute, nil)
	c := cache.New(st, time.Minute, nil)
	budget := metrics.NewBudgetChecker(hub, nil)
	reporter := metrics.NewReporter(hub, nil)

	execs := executor.NewRegistry()
	execs.Register(executor.TypeNative, executor.NativeExecutor{})

	box := &fakeSandbox{}
	r := New(Config{
		RunnerID:          "runner-1",
		Queue:             q,
		Assigner:          a,
		Cache:             c,
		Loader:            hub,
		Budget:            budget,
		Reporter:          reporter,
		Executors:         execs,
		SandboxFactory:    func() sandbox.Sandbox { return box },
		ClaimTimeout:      time.Second,
		ActivationTimeout: time.Second,
	})
	return r, q, box
}

func TestRunActivationHappyPath(t *testing.T) {
	ctx := context.Background()
	payload, err := json.Marshal(types.ActivationResult{Success: true, TokensInput: 100, TokensOutput: 50, Model: "gpt-4o"})
	require.NoError(t, err)

	hub := &fakeHub{healthy: true, cfg: types.AgentConfig{Name: "Agent One", Type: executor.TypeNative}}
	r, q, box := newTestRunner(t, hub)
	box.output = payload

	item := queue.Item{AgentID: "a1", AgentName: "Agent One", TaskType: types.TaskInbox, Priority: "high"}
	_, err = q.Enqueue(ctx, item, false)
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, "runner-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	r.handleItem(ctx, *claimed)

	assert.True(t, box.started)
	assert.True(t, box.stopped)
	assert.Contains(t, hub.activated, "a1")
	require.Len(t, hub.consumptions, 1)
	assert.Equal(t, 100, hub.consumptions[0].TokensInput)
}

func TestRunActivationBudgetExceededSkipsExecution(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{healthy: false, cfg: types.AgentConfig{Name: "Agent One", Type: executor.TypeNative}}
	r, q, box := newTestRunner(t, hub)

	item := queue.Item{AgentID: "a1", AgentName: "Agent One", TaskType: types.TaskInbox}
	_, err := q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, "runner-1", time.Second)
	require.NoError(t, err)

	r.handleItem(ctx, *claimed)

	assert.False(t, box.started, "sandbox must never start when the budget gate fails")
	assert.Empty(t, hub.consumptions, "no cost metrics should be recorded on a budget rejection")
}

func TestRunActivationConfigLoadErrorReleasesAndCompletes(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{healthy: true, loadErr: assertError{}}
	r, q, box := newTestRunner(t, hub)

	item := queue.Item{AgentID: "a1", AgentName: "Agent One", TaskType: types.TaskInbox}
	_, err := q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, "runner-1", time.Second)
	require.NoError(t, err)

	r.handleItem(ctx, *claimed)

	assert.False(t, box.started)

	locked, err := r.assigner.GetLockedAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, locked, "lock must be released after a config load failure")
}

func TestHandleItemLostClaimRaceReleasesActiveWithoutPenalty(t *testing.T) {
	ctx := context.Background()
	hub := &fakeHub{healthy: true}
	st := store.NewMemStore()
	q := queue.New(st, nil)
	a := assigner.New(hub, st, time.Minute, time.Minute, nil)

	// Simulate another runner already holding the distributed lock.
	_, _, err := a.TryClaim(ctx, types.Assignment{AgentID: "a1"}, "runner-2")
	require.NoError(t, err)

	c := cache.New(st, time.Minute, nil)
	budget := metrics.NewBudgetChecker(hub, nil)
	reporter := metrics.NewReporter(hub, nil)
	execs := executor.NewRegistry()
	r := New(Config{RunnerID: "runner-1", Queue: q, Assigner: a, Cache: c, Loader: hub, Budget: budget, Reporter: reporter, Executors: execs, SandboxFactory: func() sandbox.Sandbox { return &fakeSandbox{} }})

	item := queue.Item{AgentID: "a1", AgentName: "Agent One"}
	_, err = q.Enqueue(ctx, item, false)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, "runner-1", time.Second)
	require.NoError(t, err)

	r.handleItem(ctx, *claimed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.ActiveTasks, "lost claim race must release the queue's active-task marker")
	assert.EqualValues(t, 0, stats.AgentsInBackoff, "a lost claim race is not a failed activation")
}

type assertError struct{}

func (assertError) Error() string { return "simulated load failure" }
