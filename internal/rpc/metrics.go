package rpc

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors exported on /metrics: execution
// and handoff counters, an /execute duration histogram, and a
// worker-pool occupancy gauge that makes nesting-depth saturation visible
// instead of a silent deadlock.
type Metrics struct {
	ExecutionsStarted   prometheus.Counter
	ExecutionsCompleted prometheus.Counter
	ExecutionsFailed    prometheus.Counter
	HandoffsTotal       prometheus.Counter
	ContainerRunSeconds prometheus.Histogram
	WorkerPoolOccupancy prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capsule_orchestrator_executions_started_total",
			Help: "Total number of /execute invocations started.",
		}),
		ExecutionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capsule_orchestrator_executions_completed_total",
			Help: "Total number of /execute invocations that completed successfully.",
		}),
		ExecutionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capsule_orchestrator_executions_failed_total",
			Help: "Total number of /execute invocations that failed.",
		}),
		HandoffsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capsule_orchestrator_handoffs_total",
			Help: "Total number of /handoff invocations.",
		}),
		ContainerRunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "capsule_orchestrator_container_run_seconds",
			Help:    "Wall-clock duration of an /execute call, from dispatch to container exit.",
			Buckets: prometheus.DefBuckets,
		}),
		WorkerPoolOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capsule_orchestrator_worker_pool_occupancy",
			Help: "Number of worker pool slots currently in use.",
		}),
	}
	registerer.MustRegister(
		m.ExecutionsStarted,
		m.ExecutionsCompleted,
		m.ExecutionsFailed,
		m.HandoffsTotal,
		m.ContainerRunSeconds,
		m.WorkerPoolOccupancy,
	)
	return m
}
