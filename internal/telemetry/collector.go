package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/types"
)

// collectInterval is how often the background collector refreshes
// queue-depth gauges from the work queue.
const collectInterval = 15 * time.Second

// QueueStatsSource is the subset of the work queue the collector needs.
type QueueStatsSource interface {
	Stats(ctx context.Context) (types.QueueStats, error)
}

// Collector periodically refreshes queue-depth gauges from the work
// queue, grounded on the ticker/stopCh/stoppedCh shape in
// internal/retention's cleanup Manager.
type Collector struct {
	reg   *Registry
	queue QueueStatsSource
	log   *slog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewCollector creates a Collector.
func NewCollector(reg *Registry, queue QueueStatsSource, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		reg:       reg,
		queue:     queue,
		log:       log,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins the background refresh goroutine.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	go c.run(ctx)
}

// Stop signals the background goroutine to stop and waits for it to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	<-c.stoppedCh
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.stoppedCh)

	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()

	c.refresh(ctx)
	for {
		select {
		case <-ticker.C:
			c.refresh(ctx)
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) refresh(ctx context.Context) {
	stats, err := c.queue.Stats(ctx)
	if err != nil {
		c.log.Warn("queue_stats_refresh_failed", "error", err)
		return
	}

	c.reg.QueueDepth.WithLabelValues("high").Set(float64(stats.QueueHigh))
	c.reg.QueueDepth.WithLabelValues("normal").Set(float64(stats.QueueNormal))
	c.reg.QueueDepth.WithLabelValues("low").Set(float64(stats.QueueLow))
	c.reg.QueueActiveTasks.Set(float64(stats.ActiveTasks))
	c.reg.QueueAgentsInBackoff.Set(float64(stats.AgentsInBackoff))
}
