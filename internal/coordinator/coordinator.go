// Package coordinator runs the leader-elected poll loop that turns Hub
// work signals into queued assignments, plus the health-check and
// stats loops every coordinator instance runs regardless of
// leadership. Grounded on Coordinator in the reference
// coordinator/main.py.
package coordinator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/assigner"
	"github.com/kestrelfleet/orchestrator/internal/cache"
	"github.com/kestrelfleet/orchestrator/internal/hub"
	"github.com/kestrelfleet/orchestrator/internal/leader"
	"github.com/kestrelfleet/orchestrator/internal/otel"
	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/scheduler"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

// HubClient is the subset of the Hub API the coordinator's poll loop
// needs.
type HubClient interface {
	PollNotifications(ctx context.Context, timeout time.Duration, batchSize int) ([]types.Assignment, error)
	GetAgentsWithNotifications(ctx context.Context) ([]types.Assignment, error)
	GetStaleAgents(ctx context.Context, minStaleness time.Duration) ([]types.Assignment, error)
}

// LeaderRecorder receives leadership-state changes, satisfied by
// *telemetry.Registry.
type LeaderRecorder interface {
	SetLeaderState(instanceID string, isLeader bool)
}

// jitter scales base by a random factor in [1-f, 1+f], matching the
// reference jitter() helper so jittered sleeps don't thunder-herd the
// Hub when many coordinators wake at once.
func jitter(base time.Duration, factor float64) time.Duration {
	delta := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(base) * (1 + delta))
}

// Config bundles a Coordinator's dependencies and timing parameters.
type Config struct {
	InstanceID            string
	Hub                   HubClient
	Queue                 *queue.Queue
	Cache                 *cache.Cache
	Loader                cache.Loader
	Leader                *leader.Election
	Assigner              *assigner.Assigner
	Scheduler             *scheduler.Scheduler
	Tracer                *otel.Tracer
	Recorder              LeaderRecorder
	PollInterval          time.Duration
	MinActivationInterval time.Duration
	Log                   *slog.Logger
}

// Coordinator polls the Hub (when leader), enqueues prioritized work,
// and runs fleet-wide health/stats observation loops.
type Coordinator struct {
	id        string
	hub       HubClient
	queue     *queue.Queue
	cache     *cache.Cache
	loader    cache.Loader
	election  *leader.Election
	assigner  *assigner.Assigner
	scheduler *scheduler.Scheduler
	tracer    *otel.Tracer
	recorder  LeaderRecorder

	pollInterval          time.Duration
	minActivationInterval time.Duration

	log *slog.Logger
}

// New creates a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.NoopTracer()
	}

	return &Coordinator{
		id:                    cfg.InstanceID,
		hub:                   cfg.Hub,
		queue:                 cfg.Queue,
		cache:                 cfg.Cache,
		loader:                cfg.Loader,
		election:              cfg.Leader,
		assigner:              cfg.Assigner,
		scheduler:             cfg.Scheduler,
		tracer:                tracer,
		recorder:              cfg.Recorder,
		pollInterval:          pollInterval,
		minActivationInterval: cfg.MinActivationInterval,
		log:                   log,
	}
}

// Run starts the leader, poll, health-check, and stats loops, and
// blocks until ctx is cancelled. On cancellation it releases
// leadership before returning.
func (c *Coordinator) Run(ctx context.Context) {
	done := make(chan struct{}, 4)
	go func() { c.leaderLoop(ctx); done <- struct{}{} }()
	go func() { c.pollLoop(ctx); done <- struct{}{} }()
	go func() { c.healthCheckLoop(ctx); done <- struct{}{} }()
	go func() { c.statsLoop(ctx); done <- struct{}{} }()

	c.prewarmIfLeader(ctx)

	<-ctx.Done()
	c.log.Info("coordinator_stopping", "instance_id", c.id)

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.election.ReleaseLeadership(releaseCtx); err != nil {
		c.log.Warn("release_leadership_failed", "instance_id", c.id, "error", err)
	}

	for i := 0; i < 4; i++ {
		<-done
	}
	c.log.Info("coordinator_stopped", "instance_id", c.id)
}

// leaderLoop tries to become/refresh leadership every 10s.
func (c *Coordinator) leaderLoop(ctx context.Context) {
	c.election.Run(ctx, 10*time.Second, func(isLeader bool) {
		if c.recorder != nil {
			c.recorder.SetLeaderState(c.id, isLeader)
		}
	})
}

// pollLoop prefers long-poll against the Hub's notification endpoint,
// falling back permanently to short-poll if long-poll is unavailable.
// Only the leader polls; non-leaders simply sleep and re-check.
func (c *Coordinator) pollLoop(ctx context.Context) {
	useLongPoll := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.election.IsLeader() {
			if useLongPoll {
				if err := c.pollLong(ctx); err != nil {
					if isNotFound(err) {
						c.log.Info("long_poll_not_available_falling_back", "instance_id", c.id)
						useLongPoll = false
					} else {
						c.log.Error("poll_error", "instance_id", c.id, "error", err)
					}
				}
			} else if err := c.pollOnce(ctx); err != nil {
				c.log.Error("poll_error", "instance_id", c.id, "error", err)
			}
		}

		sleep := 5 * time.Second
		if !useLongPoll {
			sleep = c.pollInterval
		}
		select {
		case <-time.After(jitter(sleep, 0.1)):
		case <-ctx.Done():
			return
		}
	}
}

func isNotFound(err error) bool {
	if herr, ok := err.(*hub.Error); ok {
		return herr.StatusCode == http.StatusNotFound
	}
	return false
}

func (c *Coordinator) pollLong(ctx context.Context) error {
	ctx, span := c.tracer.StartPollSpan(ctx, otel.PollSpanOptions{InstanceID: c.id, TaskType: string(types.TaskInbox)})
	defer span.End()

	started := time.Now()
	agents, err := c.hub.PollNotifications(ctx, 30*time.Second, 100)
	if c.recorder != nil {
		if reg, ok := c.recorder.(pollDurationRecorder); ok {
			reg.ObservePollDuration(time.Since(started))
		}
	}
	if err != nil {
		return err
	}

	for _, a := range agents {
		c.enqueue(ctx, a, "high")
	}

	// Also check stale agents when this poll ends within the first 5s of
	// a wall-clock minute, matching the reference "time.time() % 60 < 5"
	// cadence.
	if time.Now().Unix()%60 < 5 {
		stale, err := c.hub.GetStaleAgents(ctx, c.minActivationInterval)
		if err != nil {
			return err
		}
		for _, a := range stale {
			c.enqueue(ctx, a, "normal")
		}
	}
	return nil
}

func (c *Coordinator) pollOnce(ctx context.Context) error {
	ctx, span := c.tracer.StartPollSpan(ctx, otel.PollSpanOptions{InstanceID: c.id, TaskType: string(types.TaskInbox)})
	defer span.End()

	started := time.Now()
	notif, err := c.hub.GetAgentsWithNotifications(ctx)
	if c.recorder != nil {
		if reg, ok := c.recorder.(pollDurationRecorder); ok {
			reg.ObservePollDuration(time.Since(started))
		}
	}
	if err != nil {
		return err
	}
	for _, a := range notif {
		c.enqueue(ctx, a, "high")
	}

	stale, err := c.hub.GetStaleAgents(ctx, c.minActivationInterval)
	if err != nil {
		return err
	}
	for _, a := range stale {
		c.enqueue(ctx, a, "normal")
	}
	return nil
}

func (c *Coordinator) enqueue(ctx context.Context, a types.Assignment, priority string) {
	item := queue.Item{
		AgentID:    a.AgentID,
		AgentName:  a.AgentName,
		TaskType:   a.TaskType,
		Priority:   priority,
		InboxCount: a.InboxCount,
		CreatedAt:  time.Now(),
	}
	if _, err := c.queue.Enqueue(ctx, item, false); err != nil {
		c.log.Error("enqueue_failed", "agent_id", a.AgentID, "error", err)
	}
}

// pollDurationRecorder is implemented by *telemetry.Registry; checked
// via a type assertion so Coordinator's LeaderRecorder dependency stays
// a narrow interface for testing.
type pollDurationRecorder interface {
	ObservePollDuration(d time.Duration)
}

// healthCheckLoop warns about stale locks: a held agent_lock whose
// owning runner no longer has a live heartbeat, and whose lock TTL is
// about to expire anyway. It never force-releases — the lock is left
// to expire naturally, per spec.md §4.8.
func (c *Coordinator) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	check := func() {
		runners, err := c.assigner.GetActiveRunners(ctx)
		if err != nil {
			c.log.Error("health_check_error", "error", err)
			return
		}
		locked, err := c.assigner.GetLockedAgents(ctx)
		if err != nil {
			c.log.Error("health_check_error", "error", err)
			return
		}

		active := make(map[string]bool, len(runners))
		for _, r := range runners {
			active[r.RunnerID] = true
		}
		for _, l := range locked {
			if !active[l.Owner] && l.TTLSeconds < 60 {
				c.log.Warn("stale_lock_detected", "agent_id", l.AgentID, "owner", l.Owner, "ttl_seconds", l.TTLSeconds)
			}
		}
	}

	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}

// statsLoop logs queue depths, in-flight counts, and leader status
// every minute.
func (c *Coordinator) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	log := func() {
		schedStats, err := c.scheduler.GetQueueStats(ctx)
		if err != nil {
			c.log.Error("stats_error", "error", err)
			return
		}
		queueStats, err := c.queue.Stats(ctx)
		if err != nil {
			c.log.Error("stats_error", "error", err)
			return
		}
		runners, err := c.assigner.GetActiveRunners(ctx)
		if err != nil {
			c.log.Error("stats_error", "error", err)
			return
		}

		c.log.Info("coordinator_stats",
			"instance_id", c.id,
			"is_leader", c.election.IsLeader(),
			"notification_queue", schedStats.NotificationQueue,
			"exploration_queue", schedStats.ExplorationQueue,
			"locked_agents", schedStats.LockedAgents,
			"active_runners", len(runners),
			"work_queue_high", queueStats.QueueHigh,
			"work_queue_normal", queueStats.QueueNormal,
			"work_queue_low", queueStats.QueueLow,
			"active_tasks", queueStats.ActiveTasks,
			"agents_in_backoff", queueStats.AgentsInBackoff,
		)
	}

	for {
		select {
		case <-ticker.C:
			log()
		case <-ctx.Done():
			return
		}
	}
}

// prewarmIfLeader pre-warms the config cache at startup, but only once
// this instance holds (or just acquired) leadership, per spec.md §4.8.
// Agent ids come from the union of the notification and stale-agent
// endpoints, since the Hub API surface (spec.md §6) exposes no
// unfiltered agent listing.
func (c *Coordinator) prewarmIfLeader(ctx context.Context) {
	if c.loader == nil {
		return
	}
	if !c.election.IsLeader() {
		isLeader, err := c.election.TryBecomeLeader(ctx)
		if err != nil || !isLeader {
			c.log.Debug("not_leader_skip_prewarm", "instance_id", c.id)
			return
		}
	}

	seen := make(map[string]bool)
	var ids []string
	collect := func(agents []types.Assignment) {
		for _, a := range agents {
			if !seen[a.AgentID] {
				seen[a.AgentID] = true
				ids = append(ids, a.AgentID)
			}
		}
	}

	notif, err := c.hub.GetAgentsWithNotifications(ctx)
	if err != nil {
		c.log.Warn("prewarm_error", "error", err)
		return
	}
	collect(notif)

	stale, err := c.hub.GetStaleAgents(ctx, c.minActivationInterval)
	if err != nil {
		c.log.Warn("prewarm_error", "error", err)
		return
	}
	collect(stale)

	if len(ids) == 0 {
		c.log.Debug("no_agents_to_prewarm")
		return
	}

	cached := c.cache.Prewarm(ctx, ids, c.loader)
	c.log.Info("config_cache_prewarmed", "total_agents", len(ids), "cached", cached)
}
