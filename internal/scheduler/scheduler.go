// Package scheduler decides which agent should be activated next,
// implementing the staleness-based strategy from the reference
// coordinator/scheduler.py: notifications take priority, exploration is
// the fallback for agents that have gone quiet.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

// HubClient is the subset of the Hub API the scheduler needs.
type HubClient interface {
	GetAgentsWithNotifications(ctx context.Context) ([]types.Assignment, error)
	GetStaleAgents(ctx context.Context, minStaleness time.Duration) ([]types.Assignment, error)
	GetBudgetHealth(ctx context.Context, agentID string) (types.BudgetHealth, error)
}

// Scheduler selects the next assignment according to the fleet's
// activation mode.
type Scheduler struct {
	hub                   HubClient
	st                    store.Store
	minActivationInterval time.Duration
	log                    *slog.Logger
}

// New creates a Scheduler.
func New(hub HubClient, st store.Store, minActivationInterval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{hub: hub, st: st, minActivationInterval: minActivationInterval, log: log}
}

// GetNextAssignment returns the next agent to activate for mode, or nil
// if there is nothing to do right now.
func (s *Scheduler) GetNextAssignment(ctx context.Context, mode types.ActivationMode) (*types.Assignment, error) {
	switch mode {
	case types.ModeNotification:
		return s.notificationAssignment(ctx)
	case types.ModeExploration:
		return s.explorationAssignment(ctx)
	default: // hybrid
		a, err := s.notificationAssignment(ctx)
		if err != nil {
			return nil, err
		}
		if a != nil {
			return a, nil
		}
		return s.explorationAssignment(ctx)
	}
}

func (s *Scheduler) notificationAssignment(ctx context.Context) (*types.Assignment, error) {
	agents, err := s.hub.GetAgentsWithNotifications(ctx)
	if err != nil {
		return nil, err
	}

	for _, agent := range agents {
		locked, err := s.isLocked(ctx, agent.AgentID)
		if err != nil {
			return nil, err
		}
		if locked {
			continue
		}
		s.log.Debug("notification_candidate", "agent_id", agent.AgentID, "inbox_count", agent.InboxCount)
		out := agent
		return &out, nil
	}
	return nil, nil
}

func (s *Scheduler) explorationAssignment(ctx context.Context) (*types.Assignment, error) {
	agents, err := s.hub.GetStaleAgents(ctx, s.minActivationInterval)
	if err != nil {
		return nil, err
	}

	for _, agent := range agents {
		locked, err := s.isLocked(ctx, agent.AgentID)
		if err != nil {
			return nil, err
		}
		if locked {
			continue
		}
		if s.dailyLimitsExceeded(ctx, agent.AgentID) {
			continue
		}
		s.log.Debug("exploration_candidate", "agent_id", agent.AgentID)
		out := agent
		return &out, nil
	}
	return nil, nil
}

func (s *Scheduler) isLocked(ctx context.Context, agentID string) (bool, error) {
	return s.st.Exists(ctx, "agent_lock:"+agentID)
}

// dailyLimitsExceeded checks budget health fail-open: a Hub error does
// not block exploration, only a confirmed unhealthy budget does.
func (s *Scheduler) dailyLimitsExceeded(ctx context.Context, agentID string) bool {
	health, err := s.hub.GetBudgetHealth(ctx, agentID)
	if err != nil {
		s.log.Warn("budget_check_failed", "agent_id", agentID, "error", err)
		return false
	}
	if !health.Healthy {
		s.log.Warn("agent_budget_exceeded", "agent_id", agentID)
		return true
	}
	return false
}

// QueueStats reports the current notification/exploration backlog,
// independent of the Redis work queue's own stats, for the Hub-driven
// scheduling view.
type QueueStats struct {
	NotificationQueue int `json:"notification_queue"`
	ExplorationQueue  int `json:"exploration_queue"`
	LockedAgents      int `json:"locked_agents"`
	TotalPending      int `json:"total_pending"`
}

// GetQueueStats reports how many agents are waiting in each scheduling
// bucket right now.
func (s *Scheduler) GetQueueStats(ctx context.Context) (QueueStats, error) {
	notif, err := s.hub.GetAgentsWithNotifications(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	stale, err := s.hub.GetStaleAgents(ctx, s.minActivationInterval)
	if err != nil {
		return QueueStats{}, err
	}

	locked := 0
	for _, agent := range append(append([]types.Assignment{}, notif...), stale...) {
		ok, err := s.isLocked(ctx, agent.AgentID)
		if err != nil {
			return QueueStats{}, err
		}
		if ok {
			locked++
		}
	}

	return QueueStats{
		NotificationQueue: len(notif),
		ExplorationQueue:  len(stale),
		LockedAgents:      locked,
		TotalPending:      len(notif) + len(stale) - locked,
	}, nil
}
