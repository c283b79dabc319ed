package telemetry

import (
	"time"

	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

// RecordActivation implements runner.Recorder: it folds one completed
// activation into the activations_total, activation_duration_seconds,
// tokens_consumed_total, activation_cost_usd_total, and
// activation_retries_total series. Satisfies the interface structurally;
// callers in cmd/runner pass a *Registry directly as a runner.Recorder.
func (r *Registry) RecordActivation(assignment types.Assignment, item queue.Item, result types.ActivationResult, duration time.Duration) {
	status := "success"
	if !result.Success {
		status = "failure"
	}
	agent := result.AgentID
	if agent == "" {
		agent = assignment.AgentID
	}
	taskType := string(assignment.TaskType)

	r.ActivationsTotal.WithLabelValues(agent, taskType, status).Inc()
	r.ActivationDurationSeconds.WithLabelValues(agent, taskType).Observe(duration.Seconds())

	if result.TokensInput > 0 {
		r.TokensConsumedTotal.WithLabelValues(agent, result.Model, "input").Add(float64(result.TokensInput))
	}
	if result.TokensOutput > 0 {
		r.TokensConsumedTotal.WithLabelValues(agent, result.Model, "output").Add(float64(result.TokensOutput))
	}
	if result.CostUSD > 0 {
		r.ActivationCostUSDTotal.WithLabelValues(agent, result.Model).Add(result.CostUSD)
	}

	// A claim that only succeeded because a prior attempt backed off the
	// agent shows up here as a fence token beyond the first.
	if assignment.FenceToken > 1 {
		r.ActivationRetriesTotal.WithLabelValues(agent).Inc()
	}
}

// SetRunnerHeartbeat records a runner's last heartbeat as a Unix
// timestamp gauge.
func (r *Registry) SetRunnerHeartbeat(runnerID string, ts time.Time) {
	r.RunnerHeartbeatTimestamp.WithLabelValues(runnerID).Set(float64(ts.Unix()))
}

// SetLeaderState records whether instanceID currently holds the
// coordinator leader lock.
func (r *Registry) SetLeaderState(instanceID string, isLeader bool) {
	v := 0.0
	if isLeader {
		v = 1.0
	}
	r.CoordinatorIsLeader.WithLabelValues(instanceID).Set(v)
}

// SetBudgetHealth records an agent's budget gauges for the given period
// ("daily" or "monthly").
func (r *Registry) SetBudgetHealth(agentID, period string, used, limit float64) {
	r.BudgetUsedUSD.WithLabelValues(agentID, period).Set(used)
	r.BudgetLimitUSD.WithLabelValues(agentID, period).Set(limit)
	ratio := 0.0
	if limit > 0 {
		ratio = used / limit
	}
	r.BudgetHealthRatio.WithLabelValues(agentID, period).Set(ratio)
}

// SetAgentBackoffRemaining records the seconds remaining on an agent's
// circuit-breaker backoff, 0 once it clears.
func (r *Registry) SetAgentBackoffRemaining(agentID string, secondsRemaining int64) {
	r.AgentBackoffSecondsRemaining.WithLabelValues(agentID).Set(float64(secondsRemaining))
}

// ObservePollDuration records one Hub poll round-trip.
func (r *Registry) ObservePollDuration(d time.Duration) {
	r.PollDurationSeconds.Observe(d.Seconds())
}

// ObserveQueueWait records how long an assignment waited in the queue
// before being claimed, keyed by agent and priority (parsed as an int
// string only for callers that already format it; the common path
// passes the priority label directly).
func (r *Registry) ObserveQueueWait(agentID, priority string, d time.Duration) {
	r.QueueWaitSeconds.WithLabelValues(agentID, priority).Observe(d.Seconds())
}

// SetActivationsInProgress records how many activations a runner
// currently has in flight.
func (r *Registry) SetActivationsInProgress(runnerID string, n int) {
	r.ActivationsInProgress.WithLabelValues(runnerID).Set(float64(n))
}
