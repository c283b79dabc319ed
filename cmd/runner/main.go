// Command runner claims work items from the work queue and drives each
// through the activation state machine, grounded on the teacher's
// cmd/worker binary for flag parsing, structured logging, and
// graceful shutdown with an active-work drain.
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
	"github.com/kestrelfleet/orchestrator/internal/hub"
	"github.com/kestrelfleet/orchestrator/internal/metrics"
	"github.com/kestrelfleet/orchestrator/internal/otel"
	"github.com/kestrelfleet/orchestrator/internal/queue"
	"github.com/kestrelfleet/orchestrator/internal/runner"
	"github.com/kestrelfleet/orchestrator/internal/runner/executor"
	"github.com/kestrelfleet/orchestrator/internal/sandbox"
	"github.com/kestrelfleet/orchestrator/internal/store"
	"github.com/kestrelfleet/orchestrator/internal/telemetry"
)

const defaultMetricsAddr = "0.0.0.0:9091"

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

	runnerID := cfg.RunnerID
	if runnerID == "" {
		runnerID = "runner-" + uuid.NewString()
	}
	log = log.With("runner_id", runnerID)

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
		ServiceName:  "fleet-runner",
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
	asn := assigner.New(hubClient, st, cfg.LockTTL(), cfg.ActivationTimeout(), log)
	budget := metrics.NewBudgetChecker(hubClient, log)
	reporter := metrics.NewReporter(hubClient, log)

	execs := executor.NewRegistry()
	execs.Register(executor.TypeNative, executor.NativeExecutor{})

	reg := telemetry.NewRegistry()
	telemetryServer := telemetry.NewServer(cfg.MetricsAddr, reg, agentCache, log)
	if err := telemetryServer.Start(); err != nil {
		log.Error("telemetry_server_start_failed", "error", err)
		os.Exit(1)
	}

	run := runner.New(runner.Config{
		RunnerID:          runnerID,
		Queue:             q,
		Assigner:          asn,
		Cache:             agentCache,
		Loader:            hubClient,
		Budget:            budget,
		Reporter:          reporter,
		Executors:         execs,
		SandboxFactory:    func() sandbox.Sandbox { return sandbox.NewLocalSandbox(log) },
		Recorder:          reg,
		ClaimTimeout:      cfg.ClaimTimeout(),
		ActivationTimeout: cfg.ActivationTimeout(),
		HeartbeatInterval: cfg.LockTTL() / 2,
		Log:               log,
	})

	log.Info("runner_starting", "hub_url", cfg.HubURL, "metrics_addr", telemetryServer.Addr())
	run.Run(ctx)

	log.Info("runner_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := telemetryServer.Stop(shutdownCtx); err != nil {
		log.Error("telemetry_server_stop_failed", "error", err)
	}

	log.Info("runner_stopped")
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
