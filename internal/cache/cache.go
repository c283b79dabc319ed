// Package cache caches agent configurations in the coordination store
// so runners avoid repeated fetches from the operator's config source
// on every activation. Grounded on ConfigCache in the reference
// coordinator/work_queue.py.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/types"
)

const keyPrefix = "cache:agent:"

// Loader fetches an agent's config from its source of truth (Git, in
// the reference deployment) when the cache misses.
type Loader interface {
	LoadAgentConfig(ctx context.Context, agentID string) (types.AgentConfig, error)
}

// Cache caches AgentConfig values with a per-agent or default TTL.
type Cache struct {
	st         store.Store
	defaultTTL time.Duration
	log        *slog.Logger
}

// New creates a Cache with the given default TTL.
func New(st store.Store, defaultTTL time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{st: st, defaultTTL: defaultTTL, log: log}
}

func key(agentID string) string {
	return keyPrefix + agentID
}

// Get returns the cached config for agentID, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, agentID string) (cfg types.AgentConfig, ok bool, err error) {
	data, err := c.st.Get(ctx, key(agentID))
	if store.IsNotFound(err) {
		return types.AgentConfig{}, false, nil
	}
	if err != nil {
		return types.AgentConfig{}, false, err
	}
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return types.AgentConfig{}, false, fmt.Errorf("cache: unmarshal config: %w", err)
	}
	return cfg, true, nil
}

// Set caches cfg for agentID. A ttl of zero uses cfg.CacheTTLSeconds
// when that is positive, and the Cache's default otherwise.
func (c *Cache) Set(ctx context.Context, agentID string, cfg types.AgentConfig, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
		if cfg.CacheTTLSeconds > 0 {
			ttl = time.Duration(cfg.CacheTTLSeconds) * time.Second
		}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cache: marshal config: %w", err)
	}
	_, err = c.st.Set(ctx, key(agentID), string(data), store.SetOptions{TTL: ttl})
	return err
}

// Invalidate removes the cached config for agentID.
func (c *Cache) Invalidate(ctx context.Context, agentID string) error {
	_, err := c.st.Delete(ctx, key(agentID))
	return err
}

// InvalidateAll removes every cached config, e.g. in response to a
// config-source webhook telling the fleet everything changed.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	var keys []string
	if err := c.st.Scan(ctx, keyPrefix+"*", func(k string) bool {
		keys = append(keys, k)
		return true
	}); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if _, err := c.st.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	c.log.Info("cache_invalidated_all", "count", len(keys))
	return len(keys), nil
}

// Prewarm loads and caches configs for agentIDs that are not already
// cached, using loader as the source of truth. It returns how many
// configs were newly cached, continuing past individual load failures.
func (c *Cache) Prewarm(ctx context.Context, agentIDs []string, loader Loader) int {
	cached := 0
	for _, agentID := range agentIDs {
		if _, ok, err := c.Get(ctx, agentID); err == nil && ok {
			continue
		}

		cfg, err := loader.LoadAgentConfig(ctx, agentID)
		if err != nil {
			c.log.Warn("prewarm_failed", "agent_id", agentID, "error", err)
			continue
		}
		if err := c.Set(ctx, agentID, cfg, 0); err != nil {
			c.log.Warn("prewarm_failed", "agent_id", agentID, "error", err)
			continue
		}
		cached++
	}
	c.log.Info("cache_prewarmed", "count", cached)
	return cached
}
