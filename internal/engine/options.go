package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepwise/pkg/schema"
)

const tracerName = "github.com/rendis/stepwise/internal/engine"

// DefaultStepTimeout bounds each attempt of a step registered without a timeout.
const DefaultStepTimeout = 5 * time.Minute

// MetricsRecorder observes finished steps and runs.
type MetricsRecorder interface {
	StepFinished(workflow, step string, status schema.StepStatus, attempts int, d time.Duration)
	WorkflowFinished(workflow string, status schema.WorkflowStatus, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) StepFinished(string, string, schema.StepStatus, int, time.Duration) {}
func (nopMetrics) WorkflowFinished(string, schema.WorkflowStatus, time.Duration)       {}

// Options configures a Workflow. The zero value is usable: it logs to
// slog.Default, traces through the global otel provider and retries without
// waiting.
type Options struct {
	// RunID identifies this run in events, logs and history. Generated when empty.
	RunID string
	// DefaultTimeout applies to steps registered without a timeout.
	DefaultTimeout time.Duration
	// Backoff is the wait between attempts of a step.
	Backoff BackoffPolicy
	// MaxParallel caps concurrently running parallel steps. 0 means unbounded.
	MaxParallel int

	Logger   *slog.Logger
	Events   EventAppender
	Metrics  MetricsRecorder
	Tracer   trace.Tracer
	Breakers *CircuitBreakerRegistry
}

// DefaultOptions returns Options with the fixed one second backoff.
func DefaultOptions() Options {
	return Options{
		DefaultTimeout: DefaultStepTimeout,
		Backoff:        DefaultBackoff(),
	}
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultStepTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	if o.MaxParallel < 0 {
		o.MaxParallel = 0
	}
	return o
}
