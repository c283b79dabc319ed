// Package leader implements single-key leader election so that, in a
// horizontally-scaled coordinator fleet, only one instance polls the
// Hub at a time. It is a thin specialization of internal/lock: the same
// SET NX EX / compare-and-delete primitives, applied to one well-known
// key, grounded on LeaderElection in the reference coordinator.
package leader

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/store"
)

// Key is the coordination-store key that names the current leader.
const Key = "coordinator:leader"

// Election tracks one coordinator instance's attempt to hold leadership.
type Election struct {
	st         store.Store
	instanceID string
	ttl        time.Duration
	isLeader   atomic.Bool
	log        *slog.Logger
}

// New creates an Election for instanceID with the given heartbeat TTL.
func New(st store.Store, instanceID string, ttl time.Duration, log *slog.Logger) *Election {
	if log == nil {
		log = slog.Default()
	}
	return &Election{st: st, instanceID: instanceID, ttl: ttl, log: log}
}

// TryBecomeLeader attempts to claim or refresh leadership, returning
// whether this instance is leader afterward.
func (e *Election) TryBecomeLeader(ctx context.Context) (bool, error) {
	acquired, err := e.st.Set(ctx, Key, e.instanceID, store.SetOptions{NX: true, TTL: e.ttl})
	if err != nil {
		return false, err
	}
	if acquired {
		if !e.isLeader.Swap(true) {
			e.log.Info("became_leader", "instance_id", e.instanceID)
		}
		return true, nil
	}

	current, err := e.st.Get(ctx, Key)
	if err != nil && !store.IsNotFound(err) {
		return false, err
	}
	if current == e.instanceID {
		if _, err := e.st.Expire(ctx, Key, e.ttl); err != nil {
			return false, err
		}
		e.isLeader.Store(true)
		return true, nil
	}

	e.isLeader.Store(false)
	return false, nil
}

// ReleaseLeadership gives up leadership if this instance currently
// holds it, via the compare-and-delete script so a stale instance can
// never evict the true leader.
func (e *Election) ReleaseLeadership(ctx context.Context) error {
	if !e.isLeader.Load() {
		return nil
	}
	n, err := e.st.Eval(ctx, store.CompareDeleteScript, []string{Key}, e.instanceID)
	if err != nil {
		return err
	}
	e.isLeader.Store(false)
	if n == 1 {
		e.log.Info("released_leadership", "instance_id", e.instanceID)
	}
	return nil
}

// IsLeader reports this instance's last-known leadership status.
func (e *Election) IsLeader() bool {
	return e.isLeader.Load()
}

// Run holds an Election up to date in the background: it tries to
// become/refresh leadership every interval until ctx is cancelled, then
// releases leadership. onChange, if non-nil, is invoked whenever
// leadership status flips, and once more with false on shutdown.
func (e *Election) Run(ctx context.Context, interval time.Duration, onChange func(isLeader bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempt := func() {
		was := e.isLeader.Load()
		now, err := e.TryBecomeLeader(ctx)
		if err != nil {
			e.log.Warn("leader_election_failed", "error", err)
			return
		}
		if onChange != nil && now != was {
			onChange(now)
		}
	}

	attempt()
	for {
		select {
		case <-ticker.C:
			attempt()
		case <-ctx.Done():
			release, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.ReleaseLeadership(release); err != nil {
				e.log.Warn("release_leadership_failed", "error", err)
			}
			if onChange != nil {
				onChange(false)
			}
			return
		}
	}
}
