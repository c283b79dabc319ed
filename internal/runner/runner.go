// Package runner implements the claim loop and activation state machine
// spec.md §4.9 describes: S0 idle -> S1 claimed -> S2 budget-checked ->
// S3 config-loaded -> S4 sandbox-started -> S5 executed -> S6 released.
// Grounded on the reference runner/main.py and runner/loop.py for the
// overall shape, reduced to the opaque-activation boundary this core
// owns (spec.md §1(b)/(c) keep LLM reasoning and sandbox internals out
// of scope).
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/assigner"
	"github.com/kestrelfleet/orchestrator/internal/cache"
	"github.com/kestrelfleet/orchestrator/internal/metrics"
	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/runner/executor"
	"github.com/kestrelfleet/orchestrator/internal/sandbox"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

// ConfigLoader fetches an agent's config from its source of truth on a
// cache miss. Satisfied by *hub.Client.
type ConfigLoader interface {
	LoadAgentConfig(ctx context.Context, agentID string) (types.AgentConfig, error)
}

// Recorder receives per-activation telemetry. Implementations must not
// block the state machine; *telemetry.Registry satisfies this via its
// RecordActivation method.
type Recorder interface {
	RecordActivation(assignment types.Assignment, item queue.Item, result types.ActivationResult, duration time.Duration)
}

// Runner claims work items and drives each through the activation state
// machine to completion.
type Runner struct {
	id       string
	queue    *queue.Queue
	assigner *assigner.Assigner
	cache    *cache.Cache
	loader   ConfigLoader
	budget   *metrics.BudgetChecker
	reporter *metrics.Reporter
	execs    *executor.Registry
	newBox   sandbox.Factory
	recorder Recorder

	claimTimeout      time.Duration
	activationTimeout time.Duration
	heartbeatInterval time.Duration

	log *slog.Logger
}

// Config bundles a Runner's fixed dependencies and timing parameters.
type Config struct {
	RunnerID          string
	Queue             *queue.Queue
	Assigner          *assigner.Assigner
	Cache             *cache.Cache
	Loader            ConfigLoader
	Budget            *metrics.BudgetChecker
	Reporter          *metrics.Reporter
	Executors         *executor.Registry
	SandboxFactory    sandbox.Factory
	Recorder          Recorder
	ClaimTimeout      time.Duration
	ActivationTimeout time.Duration
	HeartbeatInterval time.Duration
	Log               *slog.Logger
}

// New creates a Runner from cfg, applying defaults for any zero-valued
// timing parameter.
func New(cfg Config) *Runner {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	claimTimeout := cfg.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = 30 * time.Second
	}
	activationTimeout := cfg.ActivationTimeout
	if activationTimeout <= 0 {
		activationTimeout = 300 * time.Second
	}
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 10 * time.Second
	}

	return &Runner{
		id:                cfg.RunnerID,
		queue:             cfg.Queue,
		assigner:          cfg.Assigner,
		cache:             cfg.Cache,
		loader:            cfg.Loader,
		budget:            cfg.Budget,
		reporter:          cfg.Reporter,
		execs:             cfg.Executors,
		newBox:            cfg.SandboxFactory,
		recorder:          cfg.Recorder,
		claimTimeout:      claimTimeout,
		activationTimeout: activationTimeout,
		heartbeatInterval: heartbeatInterval,
		log:               log,
	}
}

// Run drives the claim loop and a heartbeat loop until ctx is
// cancelled. Claim blocks up to claimTimeout per attempt (spec.md §5:
// "the default timeout is 30s so that shutdown signals are noticed
// within a bounded delay").
func (r *Runner) Run(ctx context.Context) {
	go r.heartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner_stopping", "runner_id", r.id)
			return
		default:
		}

		item, err := r.queue.Claim(ctx, r.id, r.claimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("claim_failed", "runner_id", r.id, "error", err)
			continue
		}
		if item == nil {
			continue // claim timed out with no work; loop back and check ctx
		}

		r.handleItem(ctx, *item)
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	beat := func() {
		if err := r.assigner.Heartbeat(ctx, r.id, "active", r.heartbeatInterval); err != nil {
			r.log.Warn("heartbeat_failed", "runner_id", r.id, "error", err)
		}
	}

	beat()
	for {
		select {
		case <-ticker.C:
			beat()
		case <-ctx.Done():
			return
		}
	}
}

// handleItem implements S0 -> S1: claim the agent's distributed lock,
// minting a fence token, then hands off to runActivation for S1-S6. A
// lost claim race (the queue handed us work but the lock is already
// held) frees the queue's active-task marker without charging the
// circuit breaker, per spec.md §4.9's S0 row.
func (r *Runner) handleItem(ctx context.Context, item queue.Item) {
	assignment := types.Assignment{
		AgentID:    item.AgentID,
		AgentName:  item.AgentName,
		TaskType:   item.TaskType,
		Priority:   item.Priority,
		InboxCount: item.InboxCount,
		CreatedAt:  item.CreatedAt,
	}

	claimed, fence, err := r.assigner.TryClaim(ctx, assignment, r.id)
	if err != nil {
		r.log.Error("claim_failed", "agent_id", item.AgentID, "error", err)
		return
	}
	if !claimed {
		if err := r.queue.ReleaseActive(ctx, item.AgentID); err != nil {
			r.log.Error("release_active_failed", "agent_id", item.AgentID, "error", err)
		}
		r.log.Warn("claim_race_lost", "agent_id", item.AgentID, "runner_id", r.id)
		return
	}
	assignment.FenceToken = fence

	r.runActivation(ctx, assignment, item)
}

// runActivation drives S1 (budget check) through S6 (release). The
// deferred cleanup always runs sandbox.Stop (if started), releases the
// lock with the final result, completes the work item, and flushes
// usage metrics — matching every S*->S6 transition in spec.md §4.9's
// table regardless of which state failed.
func (r *Runner) runActivation(ctx context.Context, assignment types.Assignment, item queue.Item) {
	started := time.Now()
	var result types.ActivationResult
	var sbox sandbox.Sandbox
	sandboxStarted := false

	defer func() {
		if sandboxStarted {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := sbox.Stop(stopCtx); err != nil {
				r.log.Warn("sandbox_stop_failed", "agent_id", assignment.AgentID, "error", err)
			}
			cancel()
		}

		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		released, err := r.assigner.Release(releaseCtx, assignment.AgentID, r.id, &result)
		cancel()
		if err != nil {
			r.log.Error("release_failed", "agent_id", assignment.AgentID, "error", err)
		} else if !released {
			r.log.Warn("release_not_owned", "agent_id", assignment.AgentID, "runner_id", r.id)
		}

		if err := r.queue.Complete(ctx, item, result.Success); err != nil {
			r.log.Error("queue_complete_failed", "agent_id", assignment.AgentID, "error", err)
		}

		if result.TokensInput > 0 || result.TokensOutput > 0 {
			result.CostUSD = r.reporter.RecordActivation(result)
		}
		r.reporter.Flush(ctx)

		if r.recorder != nil {
			r.recorder.RecordActivation(assignment, item, result, time.Since(started))
		}
	}()

	// S1 -> S2 / S6: budget gate.
	ok, reason := r.budget.CheckBudget(ctx, assignment.AgentID)
	if !ok {
		result = types.ActivationResult{AgentID: assignment.AgentID, AgentName: assignment.AgentName, Success: false, Error: reason}
		return
	}

	// S2 -> S3 / S6: cache-consulting config load.
	cfg, hit, err := r.cache.Get(ctx, assignment.AgentID)
	if err != nil {
		r.log.Warn("config_cache_get_failed", "agent_id", assignment.AgentID, "error", err)
	}
	if err != nil || !hit {
		loaded, loadErr := r.loader.LoadAgentConfig(ctx, assignment.AgentID)
		if loadErr != nil {
			result = types.ActivationResult{AgentID: assignment.AgentID, AgentName: assignment.AgentName, Success: false, Error: fmt.Sprintf("config load failed: %v", loadErr)}
			return
		}
		cfg = loaded
		if err := r.cache.Set(ctx, assignment.AgentID, cfg, 0); err != nil {
			r.log.Warn("config_cache_set_failed", "agent_id", assignment.AgentID, "error", err)
		}
	}

	// S3 -> S4 / S6: sandbox start.
	sbox = r.newBox()
	if err := sbox.Start(ctx, cfg.Name); err != nil {
		result = types.ActivationResult{AgentID: assignment.AgentID, AgentName: cfg.Name, Success: false, Error: fmt.Sprintf("sandbox start failed: %v", err)}
		return
	}
	sandboxStarted = true

	// S4 -> S5: execute, bounded by activation_timeout.
	execCtx, cancel := context.WithTimeout(ctx, r.activationTimeout)
	defer cancel()

	activationResult, execErr := r.execs.For(cfg.Type).Execute(execCtx, cfg, item, sbox)
	if execCtx.Err() == context.DeadlineExceeded {
		result = types.ActivationResult{AgentID: assignment.AgentID, AgentName: cfg.Name, Success: false, Error: "activation timed out"}
		return
	}
	if execErr != nil {
		result = types.ActivationResult{AgentID: assignment.AgentID, AgentName: cfg.Name, Success: false, Error: execErr.Error()}
		return
	}

	result = activationResult
}
