// Package executor provides the strategy-dispatch mechanism spec.md §9
// calls for: AgentConfig.Type selects one of a closed set of executor
// implementations, named after the executor files the reference system
// keeps under executors/ (per original_source/_INDEX.md). The core
// treats every concrete executor as opaque (spec.md §1(b)); this
// package only provides the selection, not provider-specific behavior.
package executor

import (
	"context"
	"fmt"

	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/sandbox"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

// Closed set of recognized AgentConfig.Type values.
const (
	TypeNative     = "native"
	TypeClaudeCode = "claude_code"
	TypeAider      = "aider"
	TypeGoose      = "goose"
)

// Executor runs one activation of agent cfg for work item against sbox,
// returning the activation's result.
type Executor interface {
	Execute(ctx context.Context, cfg types.AgentConfig, item queue.Item, sbox sandbox.Sandbox) (types.ActivationResult, error)
}

// Registry resolves an AgentConfig.Type to its Executor, falling back to
// a NoopExecutor for unrecognized types.
type Registry struct {
	byType map[string]Executor
	def    Executor
}

// NewRegistry builds a Registry. Unregistered types fall back to a
// NoopExecutor that reports failure without panicking.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Executor), def: NoopExecutor{}}
}

// Register associates agentType with ex.
func (r *Registry) Register(agentType string, ex Executor) {
	r.byType[agentType] = ex
}

// For resolves agentType to its Executor, or the NoopExecutor default.
func (r *Registry) For(agentType string) Executor {
	if ex, ok := r.byType[agentType]; ok {
		return ex
	}
	return r.def
}

// NoopExecutor is the default for any AgentConfig.Type not registered.
// It never panics: it reports a clean activation failure naming the
// unrecognized type.
type NoopExecutor struct{}

// Execute implements Executor.
func (NoopExecutor) Execute(ctx context.Context, cfg types.AgentConfig, item queue.Item, sbox sandbox.Sandbox) (types.ActivationResult, error) {
	return types.ActivationResult{
		AgentID:   cfg.AgentID,
		AgentName: cfg.Name,
		Success:   false,
		Error:     fmt.Sprintf("no executor registered for agent type %q", cfg.Type),
	}, nil
}
