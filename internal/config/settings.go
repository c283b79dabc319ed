// Package config loads orchestrator settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings holds every tunable the coordinator and runner binaries need.
// Values are populated from environment variables via caarlos0/env, with
// struct tags supplying defaults so a bare `env` is enough to run locally
// against a dev Hub and Redis.
type Settings struct {
	// HubURL is the base URL of the social-graph Hub API.
	HubURL string `env:"HUB_URL" envDefault:"http://localhost:8000"`
	// HubAPIKey authenticates coordinator/runner requests to the Hub.
	HubAPIKey string `env:"HUB_API_KEY"`

	// StoreURL is the connection string for the coordination store
	// (a Redis-compatible server), e.g. redis://localhost:6379/0.
	StoreURL string `env:"STORE_URL" envDefault:"redis://localhost:6379/0"`

	// RunnerID uniquely identifies this runner process within the fleet.
	// Left blank, a UUID is generated at startup.
	RunnerID string `env:"RUNNER_ID"`

	// CoordinatorID uniquely identifies this coordinator process, used
	// as the leader-election candidate identity.
	CoordinatorID string `env:"COORDINATOR_ID"`

	// PollIntervalSeconds is how often the coordinator polls the Hub for
	// new work when long-polling is unavailable.
	PollIntervalSeconds int `env:"POLL_INTERVAL_SECONDS" envDefault:"10"`

	// LongPollTimeoutSeconds is loaded from the environment but read by
	// neither binary; the coordinator's long-poll window is fixed at 30s.
	LongPollTimeoutSeconds int `env:"LONG_POLL_TIMEOUT_SECONDS" envDefault:"30"`

	// LockTTLSeconds is the TTL applied to an agent's distributed lock
	// when a runner claims it.
	LockTTLSeconds int `env:"LOCK_TTL_SECONDS" envDefault:"300"`

	// ActivationTimeoutSeconds bounds how long activation tracking
	// metadata is retained for a claimed agent.
	ActivationTimeoutSeconds int `env:"ACTIVATION_TIMEOUT_SECONDS" envDefault:"600"`

	// LeaderTTLSeconds is the TTL of the coordinator leader key; the
	// leader must refresh it faster than this to keep leadership.
	LeaderTTLSeconds int `env:"LEADER_TTL_SECONDS" envDefault:"30"`

	// MinActivationIntervalSeconds is how stale an agent must be (since
	// its last activation) before it is eligible for exploration.
	MinActivationIntervalSeconds int `env:"MIN_ACTIVATION_INTERVAL_SECONDS" envDefault:"900"`

	// ConfigCacheTTLSeconds is the default TTL for cached agent configs.
	ConfigCacheTTLSeconds int `env:"CONFIG_CACHE_TTL_SECONDS" envDefault:"300"`

	// ActivationMode names a scheduling strategy: notification,
	// exploration, or hybrid. Neither binary reads it: the runner only
	// claims from the work queue and never calls the scheduler.
	ActivationMode string `env:"ACTIVATION_MODE" envDefault:"hybrid"`

	// MaxFailures is the number of consecutive failures before an agent
	// enters circuit-breaker backoff.
	MaxFailures int `env:"MAX_FAILURES" envDefault:"5"`
	// BackoffBaseSeconds and BackoffMaxSeconds parameterize the
	// exponential circuit-breaker backoff curve.
	BackoffBaseSeconds int `env:"BACKOFF_BASE_SECONDS" envDefault:"60"`
	BackoffMaxSeconds  int `env:"BACKOFF_MAX_SECONDS" envDefault:"3600"`

	// ClaimTimeoutSeconds bounds the blocking work-queue claim call.
	ClaimTimeoutSeconds int `env:"CLAIM_TIMEOUT_SECONDS" envDefault:"30"`

	// MetricsAddr is the listen address for the Prometheus /metrics and
	// health endpoints. Left blank, cmd/coordinator and cmd/runner each
	// apply their own default (0.0.0.0:9090 and 0.0.0.0:9091
	// respectively), since the two processes must not collide when run
	// on the same host.
	MetricsAddr string `env:"METRICS_ADDR"`

	// LogLevel controls slog verbosity: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat selects "json" or "text" log output.
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// OTelEnabled turns on span export. Only the coordinator poll loop
	// starts spans; the runner starts none.
	OTelEnabled bool `env:"OTEL_ENABLED" envDefault:"false"`
	// OTelExporter selects "none", "stdout", or "otlp-http".
	OTelExporter string `env:"OTEL_EXPORTER" envDefault:"none"`

	// SandboxMaxMemoryMB and SandboxMaxCPUPercent are loaded from the
	// environment but not applied: LocalSandbox enforces no resource caps.
	SandboxMaxMemoryMB   int `env:"SANDBOX_MAX_MEMORY_MB" envDefault:"512"`
	SandboxMaxCPUPercent int `env:"SANDBOX_MAX_CPU_PERCENT" envDefault:"100"`
}

// PollInterval returns PollIntervalSeconds as a time.Duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// LongPollTimeout returns LongPollTimeoutSeconds as a time.Duration.
func (s Settings) LongPollTimeout() time.Duration {
	return time.Duration(s.LongPollTimeoutSeconds) * time.Second
}

// LockTTL returns LockTTLSeconds as a time.Duration.
func (s Settings) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

// ActivationTimeout returns ActivationTimeoutSeconds as a time.Duration.
func (s Settings) ActivationTimeout() time.Duration {
	return time.Duration(s.ActivationTimeoutSeconds) * time.Second
}

// LeaderTTL returns LeaderTTLSeconds as a time.Duration.
func (s Settings) LeaderTTL() time.Duration {
	return time.Duration(s.LeaderTTLSeconds) * time.Second
}

// MinActivationInterval returns MinActivationIntervalSeconds as a time.Duration.
func (s Settings) MinActivationInterval() time.Duration {
	return time.Duration(s.MinActivationIntervalSeconds) * time.Second
}

// ConfigCacheTTL returns ConfigCacheTTLSeconds as a time.Duration.
func (s Settings) ConfigCacheTTL() time.Duration {
	return time.Duration(s.ConfigCacheTTLSeconds) * time.Second
}

// ClaimTimeout returns ClaimTimeoutSeconds as a time.Duration.
func (s Settings) ClaimTimeout() time.Duration {
	return time.Duration(s.ClaimTimeoutSeconds) * time.Second
}

// BackoffBase returns BackoffBaseSeconds as a time.Duration.
func (s Settings) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns BackoffMaxSeconds as a time.Duration.
func (s Settings) BackoffMax() time.Duration {
	return time.Duration(s.BackoffMaxSeconds) * time.Second
}

// Load reads Settings from the process environment, applying defaults
// for anything unset.
func Load() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return s, nil
}
