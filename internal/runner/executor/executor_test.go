package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

type stubSandbox struct {
	output []byte
	err    error
}

func (s *stubSandbox) Start(ctx context.Context, agentName string) error { return nil }
func (s *stubSandbox) Execute(ctx context.Context, input []byte) ([]byte, error) {
	return s.output, s.err
}
func (s *stubSandbox) Stop(ctx context.Context) error { return nil }

func TestRegistryFallsBackToNoopForUnknownType(t *testing.T) {
	r := NewRegistry()
	ex := r.For("some-unregistered-type")

	result, err := ex.Execute(context.Background(), types.AgentConfig{AgentID: "a1", Type: "some-unregistered-type"}, queue.Item{}, &stubSandbox{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "some-unregistered-type")
}

func TestRegistryResolvesRegisteredType(t *testing.T) {
	r := NewRegistry()
	r.Register(TypeNative, NativeExecutor{})

	ex := r.For(TypeNative)
	_, ok := ex.(NativeExecutor)
	assert.True(t, ok)
}

func TestNativeExecutorDecodesSandboxOutput(t *testing.T) {
	payload, err := json.Marshal(types.ActivationResult{Success: true, TokensInput: 100, TokensOutput: 50})
	require.NoError(t, err)

	ex := NativeExecutor{}
	result, err := ex.Execute(context.Background(), types.AgentConfig{AgentID: "a1", Name: "Agent One"}, queue.Item{}, &stubSandbox{output: payload})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 100, result.TokensInput)
	assert.Equal(t, "a1", result.AgentID)
	assert.Equal(t, "Agent One", result.AgentName)
}

func TestNativeExecutorReportsSandboxExecuteError(t *testing.T) {
	ex := NativeExecutor{}
	result, err := ex.Execute(context.Background(), types.AgentConfig{AgentID: "a1"}, queue.Item{}, &stubSandbox{err: assertError{}})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "simulated failure", result.Error)
}

type assertError struct{}

func (assertError) Error() string { return "simulated failure" }
