package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelfleet/orchestrator/internal/types"
)

type fakeBudgetHub struct {
	health types.BudgetHealth
	err    error
}

func (f *fakeBudgetHub) GetBudgetHealth(ctx context.Context, agentID string) (types.BudgetHealth, error) {
	return f.health, f.err
}

func TestCheckBudgetDailyExceeded(t *testing.T) {
	hub := &fakeBudgetHub{health: types.BudgetHealth{Healthy: false, DailyUsed: 10, DailyLimit: 10, MonthlyUsed: 5, MonthlyLimit: 100}}
	ok, reason := NewBudgetChecker(hub, nil).CheckBudget(context.Background(), "a1")
	assert.False(t, ok)
	assert.Equal(t, "Daily budget exceeded", reason)
}

func TestCheckBudgetMonthlyExceeded(t *testing.T) {
	hub := &fakeBudgetHub{health: types.BudgetHealth{Healthy: false, DailyUsed: 1, DailyLimit: 10, MonthlyUsed: 100, MonthlyLimit: 100}}
	ok, reason := NewBudgetChecker(hub, nil).CheckBudget(context.Background(), "a1")
	assert.False(t, ok)
	assert.Equal(t, "Monthly budget exceeded", reason)
}

func TestCheckBudgetUnhealthyNeitherLimitHit(t *testing.T) {
	hub := &fakeBudgetHub{health: types.BudgetHealth{Healthy: false, DailyUsed: 1, DailyLimit: 10, MonthlyUsed: 1, MonthlyLimit: 100}}
	ok, reason := NewBudgetChecker(hub, nil).CheckBudget(context.Background(), "a1")
	assert.False(t, ok)
	assert.Equal(t, "Budget unhealthy", reason)
}

func TestCheckBudgetHealthyOK(t *testing.T) {
	hub := &fakeBudgetHub{health: types.BudgetHealth{Healthy: true, DailyUsed: 1, DailyLimit: 10, MonthlyUsed: 1, MonthlyLimit: 100}}
	ok, reason := NewBudgetChecker(hub, nil).CheckBudget(context.Background(), "a1")
	assert.True(t, ok)
	assert.Equal(t, "ok", reason)
}

func TestCheckBudgetFailsOpenOnHubError(t *testing.T) {
	hub := &fakeBudgetHub{err: errors.New("hub down")}
	ok, reason := NewBudgetChecker(hub, nil).CheckBudget(context.Background(), "a1")
	assert.True(t, ok)
	assert.Equal(t, "budget check failed, proceeding anyway", reason)
}
