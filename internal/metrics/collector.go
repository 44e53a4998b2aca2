// Package metrics exports workflow and step outcomes as Prometheus metrics.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/pkg/schema"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "stepwise"

// Collector records engine and scheduler outcomes.
type Collector struct {
	stepRuns         *prometheus.CounterVec
	stepAttempts     *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	workflowRuns     *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	jobRuns          *prometheus.CounterVec

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

var _ engine.MetricsRecorder = (*Collector)(nil)

// NewCollector registers the metrics on a fresh registry.
func NewCollector(namespace string, logger *slog.Logger) *Collector {
	reg := prometheus.NewRegistry()
	return NewCollectorWith(namespace, reg, reg, logger)
}

// NewCollectorWith registers the metrics on reg and serves them from gatherer.
func NewCollectorWith(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *slog.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	factory := promauto.With(reg)
	c := &Collector{
		gatherer: gatherer,
		logger:   logger.With(slog.String("component", "metrics")),
	}

	c.stepRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_runs_total",
			Help:      "Steps that reached a terminal state",
		},
		[]string{"step", "status"},
	)

	c.stepAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_attempts_total",
			Help:      "Attempts made by steps, retries included",
		},
		[]string{"step"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step duration from first attempt to terminal state",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"step"},
	)

	c.workflowRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Finished workflow runs",
		},
		[]string{"workflow", "status"},
	)

	c.workflowDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow run duration",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		},
		[]string{"workflow"},
	)

	c.jobRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job triggers by outcome",
		},
		[]string{"job", "outcome"},
	)

	return c
}

// StepFinished records a step that reached a terminal state. Skipped steps
// count as runs with zero attempts and no duration sample.
func (c *Collector) StepFinished(_ string, step string, status schema.StepStatus, attempts int, d time.Duration) {
	c.stepRuns.WithLabelValues(step, string(status)).Inc()
	if attempts > 0 {
		c.stepAttempts.WithLabelValues(step).Add(float64(attempts))
		c.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	}
}

// WorkflowFinished records a finished run.
func (c *Collector) WorkflowFinished(workflow string, status schema.WorkflowStatus, d time.Duration) {
	c.workflowRuns.WithLabelValues(workflow, string(status)).Inc()
	c.workflowDuration.WithLabelValues(workflow).Observe(d.Seconds())
	c.logger.Debug("workflow recorded",
		slog.String("workflow", workflow),
		slog.String("status", string(status)),
		slog.Duration("duration", d),
	)
}

// JobTriggered records a scheduler trigger. outcome is e.g. "started",
// "skipped_in_flight" or "error".
func (c *Collector) JobTriggered(job, outcome string) {
	c.jobRuns.WithLabelValues(job, outcome).Inc()
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
