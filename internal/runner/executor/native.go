package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/sandbox"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

// NativeExecutor runs an activation through the sandbox's opaque
// Execute step and decodes its output as an ActivationResult. The
// step-level agentic reasoning loop itself (LLM calls, tool dispatch)
// is out of scope for this core per spec.md §1(b); this executor only
// provides the boundary a real implementation plugs into.
type NativeExecutor struct{}

// Execute implements Executor.
func (NativeExecutor) Execute(ctx context.Context, cfg types.AgentConfig, item queue.Item, sbox sandbox.Sandbox) (types.ActivationResult, error) {
	input, err := json.Marshal(map[string]any{
		"agent":     cfg,
		"task_type": item.TaskType,
	})
	if err != nil {
		return types.ActivationResult{}, fmt.Errorf("executor: marshal activation input: %w", err)
	}

	output, err := sbox.Execute(ctx, input)
	if err != nil {
		return types.ActivationResult{
			AgentID:   cfg.AgentID,
			AgentName: cfg.Name,
			Success:   false,
			Error:     err.Error(),
		}, nil
	}

	var result types.ActivationResult
	if err := json.Unmarshal(output, &result); err != nil {
		return types.ActivationResult{}, fmt.Errorf("executor: decode activation result: %w", err)
	}
	result.AgentID = cfg.AgentID
	result.AgentName = cfg.Name
	return result, nil
}
