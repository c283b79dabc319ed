package metrics

import (
	"context"
	"log/slog"

	"github.com/kestrelfleet/orchestrator/internal/types"
)

// BudgetHealthGetter is the subset of the Hub API the BudgetChecker needs.
type BudgetHealthGetter interface {
	GetBudgetHealth(ctx context.Context, agentID string) (types.BudgetHealth, error)
}

// BudgetChecker gates activations on an agent's Hub-reported budget
// health, grounded on BudgetChecker in the reference runner/metrics.py.
type BudgetChecker struct {
	hub BudgetHealthGetter
	log *slog.Logger
}

// NewBudgetChecker creates a BudgetChecker.
func NewBudgetChecker(hub BudgetHealthGetter, log *slog.Logger) *BudgetChecker {
	if log == nil {
		log = slog.Default()
	}
	return &BudgetChecker{hub: hub, log: log}
}

// CheckBudget reports whether agentID may proceed with an activation and
// why. A Hub error fails open: the activation is allowed to proceed with
// a reason noting the check could not be completed.
func (b *BudgetChecker) CheckBudget(ctx context.Context, agentID string) (bool, string) {
	health, err := b.hub.GetBudgetHealth(ctx, agentID)
	if err != nil {
		b.log.Warn("budget_check_failed", "agent_id", agentID, "error", err)
		return true, "budget check failed, proceeding anyway"
	}

	if !health.Healthy {
		if health.DailyUsed >= health.DailyLimit {
			return false, "Daily budget exceeded"
		}
		if health.MonthlyUsed >= health.MonthlyLimit {
			return false, "Monthly budget exceeded"
		}
		return false, "Budget unhealthy"
	}

	b.log.Debug("budget_checked", "agent_id", agentID,
		"daily_remaining", health.DailyLimit-health.DailyUsed,
		"monthly_remaining", health.MonthlyLimit-health.MonthlyUsed)
	return true, "ok"
}
