// Package telemetry exposes the fleet's Prometheus metrics and a small
// HTTP surface (health, readiness, cache invalidation) for operators and
// scrapers. Metric names, labels, and bucket boundaries are a fixed
// contract shared by the coordinator and runner binaries.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// durationBuckets is shared by activation_duration_seconds and
// queue_wait_seconds: both measure "how long until an activation ran",
// just from different starting points.
var durationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600}

var pollBuckets = []float64{0.1, 0.5, 1, 2, 5, 10}

// Registry holds every metric the fleet exports, wired into a dedicated
// prometheus.Registry so /metrics never picks up Go runtime collectors
// registered elsewhere in the process.
type Registry struct {
	reg *prometheus.Registry

	ActivationsTotal       *prometheus.CounterVec
	TokensConsumedTotal    *prometheus.CounterVec
	ActivationCostUSDTotal *prometheus.CounterVec
	ActivationRetriesTotal *prometheus.CounterVec

	ActivationsInProgress        *prometheus.GaugeVec
	QueueDepth                   *prometheus.GaugeVec
	QueueActiveTasks             prometheus.Gauge
	QueueAgentsInBackoff         prometheus.Gauge
	RunnerHeartbeatTimestamp     *prometheus.GaugeVec
	CoordinatorIsLeader          *prometheus.GaugeVec
	BudgetUsedUSD                *prometheus.GaugeVec
	BudgetLimitUSD               *prometheus.GaugeVec
	BudgetHealthRatio            *prometheus.GaugeVec
	AgentBackoffSecondsRemaining *prometheus.GaugeVec

	ActivationDurationSeconds *prometheus.HistogramVec
	PollDurationSeconds       prometheus.Histogram
	QueueWaitSeconds          *prometheus.HistogramVec
}

// NewRegistry builds and registers every metric in the telemetry
// contract.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,

		ActivationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activations_total",
			Help: "Total agent activations, by outcome.",
		}, []string{"agent", "task_type", "status"}),

		TokensConsumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokens_consumed_total",
			Help: "Total tokens consumed, by model and direction (input/output).",
		}, []string{"agent", "model", "direction"}),

		ActivationCostUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activation_cost_usd_total",
			Help: "Total estimated USD cost of activations, by model.",
		}, []string{"agent", "model"}),

		ActivationRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activation_retries_total",
			Help: "Total activation retries after a circuit-breaker backoff.",
		}, []string{"agent"}),

		ActivationsInProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "activations_in_progress",
			Help: "Activations currently running on a runner.",
		}, []string{"runner"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Work queue depth, by priority.",
		}, []string{"priority"}),

		QueueActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_active_tasks",
			Help: "Tasks currently claimed and in flight.",
		}),

		QueueAgentsInBackoff: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_agents_in_backoff",
			Help: "Agents currently serving a circuit-breaker backoff.",
		}),

		RunnerHeartbeatTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runner_heartbeat_timestamp",
			Help: "Unix timestamp of the runner's last heartbeat.",
		}, []string{"runner"}),

		CoordinatorIsLeader: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coordinator_is_leader",
			Help: "1 if this coordinator instance holds the leader lock, else 0.",
		}, []string{"instance"}),

		BudgetUsedUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "budget_used_usd",
			Help: "USD spend used so far in the period.",
		}, []string{"agent", "period"}),

		BudgetLimitUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "budget_limit_usd",
			Help: "USD spend limit for the period.",
		}, []string{"agent", "period"}),

		BudgetHealthRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "budget_health_ratio",
			Help: "Used/limit ratio for the period, in [0, 1+].",
		}, []string{"agent", "period"}),

		AgentBackoffSecondsRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_backoff_seconds_remaining",
			Help: "Seconds remaining on an agent's circuit-breaker backoff, 0 if none.",
		}, []string{"agent"}),

		ActivationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "activation_duration_seconds",
			Help:    "Wall-clock duration of an activation, start to finish.",
			Buckets: durationBuckets,
		}, []string{"agent", "task_type"}),

		PollDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "poll_duration_seconds",
			Help:    "Duration of a single Hub poll round-trip.",
			Buckets: pollBuckets,
		}),

		QueueWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_wait_seconds",
			Help:    "Time an assignment spent queued before being claimed.",
			Buckets: durationBuckets,
		}, []string{"agent", "priority"}),
	}

	reg.MustRegister(
		r.ActivationsTotal,
		r.TokensConsumedTotal,
		r.ActivationCostUSDTotal,
		r.ActivationRetriesTotal,
		r.ActivationsInProgress,
		r.QueueDepth,
		r.QueueActiveTasks,
		r.QueueAgentsInBackoff,
		r.RunnerHeartbeatTimestamp,
		r.CoordinatorIsLeader,
		r.BudgetUsedUSD,
		r.BudgetLimitUSD,
		r.BudgetHealthRatio,
		r.AgentBackoffSecondsRemaining,
		r.ActivationDurationSeconds,
		r.PollDurationSeconds,
		r.QueueWaitSeconds,
	)

	return r
}
