// Package queue implements the Redis-backed priority work queue that
// distributes agent activations to runners: three priority lists
// (high/normal/low), active-task tracking for deduplication, and a
// per-agent circuit breaker that backs off agents which keep failing.
//
// Grounded on WorkQueue in the reference coordinator/work_queue.py.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

const (
	keyQueueHigh    = "work:queue:high"
	keyQueueNormal  = "work:queue:normal"
	keyQueueLow     = "work:queue:low"
	keyActiveTasks  = "work:active"
	keyAgentFailures = "work:failures"
	keyAgentBackoff  = "work:backoff"
)

// Item is one unit of work in the queue.
type Item struct {
	AgentID    string         `json:"agent_id"`
	AgentName  string         `json:"agent_name"`
	TaskType   types.TaskType `json:"task_type"`
	Priority   string         `json:"priority"`
	InboxCount int            `json:"inbox_count"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (i Item) queueKey() string {
	switch i.Priority {
	case "high":
		return keyQueueHigh
	case "low":
		return keyQueueLow
	default:
		return keyQueueNormal
	}
}

// Queue distributes work items to runners with priority ordering,
// deduplication, and circuit-breaker backoff for repeatedly failing
// agents.
type Queue struct {
	st  store.Store
	log *slog.Logger

	maxFailures int
	backoffBase time.Duration
	backoffMax  time.Duration
}

// Option configures a Queue's circuit-breaker parameters.
type Option func(*Queue)

// WithCircuitBreaker overrides the default failure threshold and
// backoff curve (base=60s, max=3600s, maxFailures=5 match the
// reference implementation).
func WithCircuitBreaker(maxFailures int, base, max time.Duration) Option {
	return func(q *Queue) {
		q.maxFailures = maxFailures
		q.backoffBase = base
		q.backoffMax = max
	}
}

// New creates a Queue over st with the reference default circuit
// breaker parameters, overridable via opts.
func New(st store.Store, log *slog.Logger, opts ...Option) *Queue {
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		st:          st,
		log:         log,
		maxFailures: 5,
		backoffBase: 60 * time.Second,
		backoffMax:  3600 * time.Second,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue adds work to the appropriate priority list. Unless force is
// set, it skips agents that already have an active task or are in
// circuit-breaker backoff, returning false in that case.
func (q *Queue) Enqueue(ctx context.Context, item Item, force bool) (bool, error) {
	if !force {
		if _, err := q.st.HGet(ctx, keyActiveTasks, item.AgentID); err == nil {
			q.log.Debug("duplicate_work_skipped", "agent_id", item.AgentID)
			return false, nil
		} else if !store.IsNotFound(err) {
			return false, err
		}

		backoffUntil, err := q.st.HGet(ctx, keyAgentBackoff, item.AgentID)
		if err != nil && !store.IsNotFound(err) {
			return false, err
		}
		if backoffUntil != "" {
			var until int64
			fmt.Sscanf(backoffUntil, "%d", &until)
			if time.Now().Unix() < until {
				q.log.Debug("agent_in_backoff", "agent_id", item.AgentID)
				return false, nil
			}
			if _, err := q.st.HDel(ctx, keyAgentBackoff, item.AgentID); err != nil {
				return false, err
			}
		}
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("queue: marshal item: %w", err)
	}

	if _, err := q.st.LPush(ctx, item.queueKey(), string(payload)); err != nil {
		return false, err
	}
	q.log.Debug("work_enqueued", "agent_id", item.AgentID, "priority", item.Priority)
	return true, nil
}

// Claim blocks up to timeout waiting for work, checking high, normal,
// then low priority queues in order, and marks the claimed agent active
// under runnerID.
func (q *Queue) Claim(ctx context.Context, runnerID string, timeout time.Duration) (*Item, error) {
	res, err := q.st.BRPop(ctx, timeout, keyQueueHigh, keyQueueNormal, keyQueueLow)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	var item Item
	if err := json.Unmarshal([]byte(res.Value), &item); err != nil {
		return nil, fmt.Errorf("queue: unmarshal item: %w", err)
	}

	if err := q.st.HSet(ctx, keyActiveTasks, item.AgentID, runnerID); err != nil {
		return nil, err
	}

	q.log.Info("work_claimed", "agent_id", item.AgentID, "runner_id", runnerID, "queue", res.Key)
	return &item, nil
}

// Complete marks an item's active task as finished, clearing or
// advancing the agent's circuit breaker state depending on success.
func (q *Queue) Complete(ctx context.Context, item Item, success bool) error {
	if _, err := q.st.HDel(ctx, keyActiveTasks, item.AgentID); err != nil {
		return err
	}

	if success {
		if _, err := q.st.HDel(ctx, keyAgentFailures, item.AgentID); err != nil {
			return err
		}
		if _, err := q.st.HDel(ctx, keyAgentBackoff, item.AgentID); err != nil {
			return err
		}
		return nil
	}

	failures, err := q.st.HIncrBy(ctx, keyAgentFailures, item.AgentID, 1)
	if err != nil {
		return err
	}

	if failures >= int64(q.maxFailures) {
		backoffSecs := q.backoffSeconds(failures)
		until := time.Now().Add(backoffSecs).Unix()
		if err := q.st.HSet(ctx, keyAgentBackoff, item.AgentID, fmt.Sprintf("%d", until)); err != nil {
			return err
		}
		q.log.Warn("agent_circuit_breaker", "agent_id", item.AgentID, "failures", failures, "backoff_seconds", backoffSecs.Seconds())
	}

	return nil
}

// backoffSeconds computes backoff_base * 2^(failures - max_failures),
// capped at backoff_max, matching the reference circuit breaker math.
func (q *Queue) backoffSeconds(failures int64) time.Duration {
	exp := failures - int64(q.maxFailures)
	if exp < 0 {
		exp = 0
	}
	secs := float64(q.backoffBase/time.Second) * math.Pow(2, float64(exp))
	d := time.Duration(secs) * time.Second
	if d > q.backoffMax {
		d = q.backoffMax
	}
	return d
}

// ReleaseActive clears an agent's active-task marker without touching
// its circuit-breaker state. Used when a claim handed off by the queue
// loses the race for the agent's distributed lock: the queue slot must
// be freed, but this was not a failed activation and should not advance
// the agent toward backoff.
func (q *Queue) ReleaseActive(ctx context.Context, agentID string) error {
	_, err := q.st.HDel(ctx, keyActiveTasks, agentID)
	return err
}

// ClearBackoff manually clears an agent's circuit breaker state.
func (q *Queue) ClearBackoff(ctx context.Context, agentID string) error {
	if _, err := q.st.HDel(ctx, keyAgentBackoff, agentID); err != nil {
		return err
	}
	if _, err := q.st.HDel(ctx, keyAgentFailures, agentID); err != nil {
		return err
	}
	q.log.Info("backoff_cleared", "agent_id", agentID)
	return nil
}

// Stats reports current queue depths and health for telemetry.
func (q *Queue) Stats(ctx context.Context) (types.QueueStats, error) {
	high, err := q.st.LLen(ctx, keyQueueHigh)
	if err != nil {
		return types.QueueStats{}, err
	}
	normal, err := q.st.LLen(ctx, keyQueueNormal)
	if err != nil {
		return types.QueueStats{}, err
	}
	low, err := q.st.LLen(ctx, keyQueueLow)
	if err != nil {
		return types.QueueStats{}, err
	}
	active, err := q.st.HLen(ctx, keyActiveTasks)
	if err != nil {
		return types.QueueStats{}, err
	}
	backoff, err := q.st.HLen(ctx, keyAgentBackoff)
	if err != nil {
		return types.QueueStats{}, err
	}

	return types.QueueStats{
		QueueHigh:       high,
		QueueNormal:     normal,
		QueueLow:        low,
		TotalQueued:     high + normal + low,
		ActiveTasks:     active,
		AgentsInBackoff: backoff,
	}, nil
}
