package metrics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kestrelfleet/orchestrator/internal/types"
)

// ConsumptionReporter is the subset of the Hub API the Reporter needs to
// flush aggregated usage.
type ConsumptionReporter interface {
	ReportConsumption(ctx context.Context, agentID string, tokensInput, tokensOutput int, costUSD float64) error
}

// usage is one agent's pending, not-yet-flushed token usage.
type usage struct {
	tokensInput  int
	tokensOutput int
	costUSD      float64
}

// Reporter buffers per-agent token usage in memory and ships aggregated
// totals to the Hub on Flush, grounded on MetricsReporter in the
// reference runner/metrics.py.
type Reporter struct {
	hub ConsumptionReporter
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]*usage
}

// NewReporter creates a Reporter.
func NewReporter(hub ConsumptionReporter, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{hub: hub, log: log, pending: make(map[string]*usage)}
}

// RecordUsage records tokensInput/tokensOutput consumed by agentID under
// model, computing and accumulating cost for the next Flush.
func (r *Reporter) RecordUsage(agentID, model string, tokensInput, tokensOutput int) float64 {
	cost := CalculateCost(model, tokensInput, tokensOutput)

	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.pending[agentID]
	if !ok {
		u = &usage{}
		r.pending[agentID] = u
	}
	u.tokensInput += tokensInput
	u.tokensOutput += tokensOutput
	u.costUSD += cost

	r.log.Debug("usage_recorded", "agent_id", agentID, "model", model,
		"tokens_input", tokensInput, "tokens_output", tokensOutput, "cost_usd", cost)
	return cost
}

// RecordActivation is a convenience wrapper that records usage directly
// from an ActivationResult.
func (r *Reporter) RecordActivation(result types.ActivationResult) float64 {
	return r.RecordUsage(result.AgentID, result.Model, result.TokensInput, result.TokensOutput)
}

// Flush reports all pending per-agent totals to the Hub and clears them,
// regardless of whether individual reports fail.
func (r *Reporter) Flush(ctx context.Context) {
	r.mu.Lock()
	totals := r.pending
	r.pending = make(map[string]*usage)
	r.mu.Unlock()

	for agentID, total := range totals {
		if err := r.hub.ReportConsumption(ctx, agentID, total.tokensInput, total.tokensOutput, total.costUSD); err != nil {
			r.log.Error("metrics_report_failed", "agent_id", agentID, "error", err)
			continue
		}
		r.log.Info("metrics_reported", "agent_id", agentID,
			"tokens_total", total.tokensInput+total.tokensOutput, "cost_usd", total.costUSD)
	}
}
