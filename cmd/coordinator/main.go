// Command coordinator runs the leader-elected poll loop that turns Hub
// work signals into prioritized work-queue items for the runner fleet
// to claim, grounded on the teacher's cmd/server and cmd/worker
// binaries for flag parsing, structured logging, and graceful shutdown.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelfleet/orchestrator/internal/assigner"
	"github.com/kestrelfleet/orchestrator/internal/cache"
	"github.com/kestrelfleet/orchestrator/internal/config"
	"github.com/kestrelfleet/orchestrator/internal/coordinator"
	"github.com/kestrelfleet/orchestrator/internal/hub"
	"github.com/kestrelfleet/orchestrator/internal/leader"
	"github.com/kestrelfleet/orchestrator/internal/otel"
	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/scheduler"
	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/telemetry"
)

const defaultMetricsAddr = "0.0.0.0:9090"

func main() {
	metricsAddr := flag.String("metrics-addr", "", "Listen address for /metrics and health endpoints (overrides METRICS_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	log := newLogger(cfg)
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}

	instanceID := cfg.CoordinatorID
	if instanceID == "" {
		instanceID = "coordinator-" + uuid.NewString()
	}
	log = log.With("instance_id", instanceID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedisStore(ctx, cfg.StoreURL)
	if err != nil {
		log.Error("store_connect_failed", "error", err)
		os.Exit(1)
	}

	hubClient := hub.NewClient(cfg.HubURL, cfg.HubAPIKey)

	tracer, err := otel.NewTracer(ctx, &otel.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "fleet-coordinator",
		ExporterType: otel.ExporterType(cfg.OTelExporter),
		SampleRate:   1.0,
	})
	if err != nil {
		log.Error("tracer_init_failed", "error", err)
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())
	otel.SetGlobalTracer(tracer)

	q := queue.New(st, log, queue.WithCircuitBreaker(cfg.MaxFailures, cfg.BackoffBase(), cfg.BackoffMax()))
	agentCache := cache.New(st, cfg.ConfigCacheTTL(), log)
	election := leader.New(st, instanceID, cfg.LeaderTTL(), log)
	asn := assigner.New(hubClient, st, cfg.LockTTL(), cfg.ActivationTimeout(), log)
	sched := scheduler.New(hubClient, st, cfg.MinActivationInterval(), log)

	reg := telemetry.NewRegistry()
	telemetryServer := telemetry.NewServer(cfg.MetricsAddr, reg, agentCache, log)
	if err := telemetryServer.Start(); err != nil {
		log.Error("telemetry_server_start_failed", "error", err)
		os.Exit(1)
	}

	collector := telemetry.NewCollector(reg, q, log)
	collector.Start(ctx)

	co := coordinator.New(coordinator.Config{
		InstanceID:            instanceID,
		Hub:                   hubClient,
		Queue:                 q,
		Cache:                 agentCache,
		Loader:                hubClient,
		Leader:                election,
		Assigner:              asn,
		Scheduler:             sched,
		Tracer:                tracer,
		Recorder:              reg,
		PollInterval:          cfg.PollInterval(),
		MinActivationInterval: cfg.MinActivationInterval(),
		Log:                   log,
	})

	log.Info("coordinator_starting", "hub_url", cfg.HubURL, "metrics_addr", telemetryServer.Addr())
	co.Run(ctx)

	log.Info("coordinator_stopping")
	collector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := telemetryServer.Stop(shutdownCtx); err != nil {
		log.Error("telemetry_server_stop_failed", "error", err)
	}

	log.Info("coordinator_stopped")
}

func newLogger(cfg config.Settings) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
