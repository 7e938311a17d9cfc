package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	registry *prometheus.Registry

	runsTotal           *prometheus.CounterVec
	runDuration         *prometheus.HistogramVec
	jobsExecuted        *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	rerunWarnings       *prometheus.CounterVec
	dependencyTriggered prometheus.Counter
	activeRuns          prometheus.Gauge
	workers             *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry, so several
// collectors can coexist in one process
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_runs_total",
				Help: "Total number of orchestrator runs",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maestro_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		jobsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_jobs_executed_total",
				Help: "Total number of job executions",
			},
			[]string{"job_type", "status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maestro_job_duration_seconds",
				Help:    "Job execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"job_type"},
		),
		rerunWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_rerun_warnings_total",
				Help: "Executions of already completed jobs",
			},
			[]string{"job_type"},
		),
		dependencyTriggered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "maestro_dependency_triggered_total",
				Help: "Jobs executed early to satisfy a dependency",
			},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maestro_active_runs",
				Help: "Number of currently active runs",
			},
		),
		workers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maestro_workers",
				Help: "Background workers by status",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the underlying Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRun records a finished run
func (c *Collector) RecordRun(status string, duration time.Duration) {
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordJob records a finished job execution
func (c *Collector) RecordJob(jobType, status string, duration time.Duration) {
	c.jobsExecuted.WithLabelValues(jobType, status).Inc()
	c.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// IncRerunWarnings counts an execution of a completed job
func (c *Collector) IncRerunWarnings(jobType string) {
	c.rerunWarnings.WithLabelValues(jobType).Inc()
}

// IncDependencyTriggered counts an early dependency execution
func (c *Collector) IncDependencyTriggered() {
	c.dependencyTriggered.Inc()
}

// SetActiveRuns sets the number of currently active runs
func (c *Collector) SetActiveRuns(n int) {
	c.activeRuns.Set(float64(n))
}

// RecordWorkerPoolStatus sets the worker gauges
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workers.WithLabelValues("idle").Set(float64(idle))
	c.workers.WithLabelValues("busy").Set(float64(busy))
	c.workers.WithLabelValues("stopped").Set(float64(stopped))
}
