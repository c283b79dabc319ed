// Package assigner hands agents to runners and tracks that handoff:
// claiming via a distributed lock, heartbeats, activation tracking, and
// a bounded recent-results history for observability. Grounded on
// Assigner in the reference coordinator/assigner.py.
package assigner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

const (
	resultsKey          = "activation:results"
	maxRecentResults    = 1000
	heartbeatKeyPrefix  = "runner:heartbeat:"
	lockKeyPrefix       = "agent_lock:"
	activationKeyPrefix = "agent:activation:"
	fenceKeyPrefix      = "agent_fence:"
)

// HubClient is the subset of the Hub API the assigner needs.
type HubClient interface {
	UpdateAgentActivation(ctx context.Context, agentID string) error
}

// Assigner coordinates claiming, releasing, and tracking agent
// assignments across the runner fleet.
type Assigner struct {
	hub               HubClient
	st                store.Store
	lockTTL           time.Duration
	activationTimeout time.Duration
	log               *slog.Logger
}

// New creates an Assigner.
func New(hub HubClient, st store.Store, lockTTL, activationTimeout time.Duration, log *slog.Logger) *Assigner {
	if log == nil {
		log = slog.Default()
	}
	return &Assigner{hub: hub, st: st, lockTTL: lockTTL, activationTimeout: activationTimeout, log: log}
}

func lockKey(agentID string) string { return lockKeyPrefix + agentID }

// TryClaim attempts to lock assignment.AgentID for runnerID. On
// success, it mints a fence token (a monotonically increasing
// diagnostic counter, not enforced against stale writers) and records
// activation-tracking metadata.
func (a *Assigner) TryClaim(ctx context.Context, assignment types.Assignment, runnerID string) (bool, int64, error) {
	acquired, err := a.st.Set(ctx, lockKey(assignment.AgentID), runnerID, store.SetOptions{NX: true, TTL: a.lockTTL})
	if err != nil {
		return false, 0, err
	}
	if !acquired {
		a.log.Debug("agent_already_claimed", "agent_id", assignment.AgentID, "runner_id", runnerID)
		return false, 0, nil
	}

	fence, err := a.st.Incr(ctx, fenceKeyPrefix+assignment.AgentID)
	if err != nil {
		return false, 0, err
	}

	if err := a.trackAssignment(ctx, assignment, runnerID); err != nil {
		return false, 0, err
	}

	a.log.Info("agent_claimed", "agent_id", assignment.AgentID, "runner_id", runnerID, "task_type", assignment.TaskType, "fence_token", fence)
	return true, fence, nil
}

func (a *Assigner) trackAssignment(ctx context.Context, assignment types.Assignment, runnerID string) error {
	payload, err := json.Marshal(map[string]any{
		"agent_id":   assignment.AgentID,
		"agent_name": assignment.AgentName,
		"runner_id":  runnerID,
		"task_type":  assignment.TaskType,
		"started_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("assigner: marshal tracking metadata: %w", err)
	}
	_, err = a.st.Set(ctx, activationKeyPrefix+assignment.AgentID, string(payload), store.SetOptions{TTL: a.activationTimeout})
	return err
}

// Release gives up the lock on agentID if runnerID still owns it,
// updates the Hub's last-activated timestamp, records result (if
// given), and cleans up tracking. It returns false if runnerID did not
// own the lock.
func (a *Assigner) Release(ctx context.Context, agentID, runnerID string, result *types.ActivationResult) (bool, error) {
	current, err := a.st.Get(ctx, lockKey(agentID))
	if err != nil && !store.IsNotFound(err) {
		return false, err
	}
	if current != runnerID {
		a.log.Warn("lock_not_owned", "agent_id", agentID, "runner_id", runnerID, "current_owner", current)
		return false, nil
	}

	if _, err := a.st.Delete(ctx, lockKey(agentID)); err != nil {
		return false, err
	}

	if err := a.hub.UpdateAgentActivation(ctx, agentID); err != nil {
		a.log.Error("failed_to_update_activation", "agent_id", agentID, "error", err)
	}

	if result != nil {
		if err := a.recordResult(ctx, *result); err != nil {
			return false, err
		}
	}

	if _, err := a.st.Delete(ctx, activationKeyPrefix+agentID); err != nil {
		return false, err
	}

	success := result != nil && result.Success
	a.log.Info("agent_released", "agent_id", agentID, "runner_id", runnerID, "success", success)
	return true, nil
}

// ExtendLock extends a held lock's TTL for long-running activations,
// via the compare-and-expire script so only the owning runner can do it.
func (a *Assigner) ExtendLock(ctx context.Context, agentID, runnerID string, additionalTTL time.Duration) (bool, error) {
	ttl := additionalTTL
	if ttl <= 0 {
		ttl = a.lockTTL
	}
	n, err := a.st.Eval(ctx, store.CompareExpireScript, []string{lockKey(agentID)}, runnerID, int64(ttl/time.Second))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Heartbeat records a runner's liveness, expiring after 2x the given
// poll interval so a dead runner naturally drops out of
// GetActiveRunners.
func (a *Assigner) Heartbeat(ctx context.Context, runnerID, status string, pollInterval time.Duration) error {
	payload, err := json.Marshal(types.RunnerHeartbeat{RunnerID: runnerID, Status: status, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("assigner: marshal heartbeat: %w", err)
	}
	_, err = a.st.Set(ctx, heartbeatKeyPrefix+runnerID, string(payload), store.SetOptions{TTL: 2 * pollInterval})
	return err
}

// GetActiveRunners lists runners with a live heartbeat.
func (a *Assigner) GetActiveRunners(ctx context.Context) ([]types.RunnerHeartbeat, error) {
	var out []types.RunnerHeartbeat
	err := a.st.Scan(ctx, heartbeatKeyPrefix+"*", func(key string) bool {
		v, err := a.st.Get(ctx, key)
		if err != nil {
			return true
		}
		var hb types.RunnerHeartbeat
		if err := json.Unmarshal([]byte(v), &hb); err == nil {
			out = append(out, hb)
		}
		return true
	})
	return out, err
}

// GetLockedAgents lists agents currently held by a runner's lock.
func (a *Assigner) GetLockedAgents(ctx context.Context) ([]types.LockedAgent, error) {
	var out []types.LockedAgent
	err := a.st.Scan(ctx, lockKeyPrefix+"*", func(key string) bool {
		agentID := key[len(lockKeyPrefix):]
		owner, err := a.st.Get(ctx, key)
		if err != nil {
			return true
		}
		ttl, err := a.st.TTL(ctx, key)
		if err != nil {
			return true
		}
		out = append(out, types.LockedAgent{AgentID: agentID, Owner: owner, TTLSeconds: int64(ttl / time.Second)})
		return true
	})
	return out, err
}

func (a *Assigner) recordResult(ctx context.Context, result types.ActivationResult) error {
	payload, err := json.Marshal(map[string]any{
		"agent_id":                result.AgentID,
		"agent_name":              result.AgentName,
		"success":                 result.Success,
		"posts_created":           result.PostsCreated,
		"comments_created":        result.CommentsCreated,
		"notifications_processed": result.NotificationsProcessed,
		"tokens_input":            result.TokensInput,
		"tokens_output":           result.TokensOutput,
		"duration_seconds":        result.DurationSeconds,
		"error":                   result.Error,
		"timestamp":               time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("assigner: marshal result: %w", err)
	}
	if _, err := a.st.LPush(ctx, resultsKey, string(payload)); err != nil {
		return err
	}
	return a.st.LTrim(ctx, resultsKey, 0, maxRecentResults-1)
}

// GetRecentResults returns up to limit of the most recent activation
// results, newest first.
func (a *Assigner) GetRecentResults(ctx context.Context, limit int) ([]types.ActivationResult, error) {
	raw, err := a.st.LRange(ctx, resultsKey, 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}
	out := make([]types.ActivationResult, 0, len(raw))
	for _, r := range raw {
		var result types.ActivationResult
		if err := json.Unmarshal([]byte(r), &result); err == nil {
			out = append(out, result)
		}
	}
	return out, nil
}
