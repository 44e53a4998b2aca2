package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// recordingAppender captures emitted events.
type recordingAppender struct {
	mu     sync.Mutex
	events []*schema.Event
}

func (a *recordingAppender) AppendEvent(_ context.Context, ev *schema.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingAppender) Types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, ev := range a.events {
		out[i] = ev.Type
	}
	return out
}

func (a *recordingAppender) ForStep(stepID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, ev := range a.events {
		if ev.StepID == stepID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// failingAppender rejects every event.
type failingAppender struct{}

func (failingAppender) AppendEvent(context.Context, *schema.Event) error {
	return errors.New("sink unavailable")
}

// recordingMetrics captures MetricsRecorder calls.
type recordingMetrics struct {
	mu        sync.Mutex
	steps     map[string]schema.StepStatus
	attempts  map[string]int
	workflows []schema.WorkflowStatus
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{steps: map[string]schema.StepStatus{}, attempts: map[string]int{}}
}

func (m *recordingMetrics) StepFinished(_, step string, status schema.StepStatus, attempts int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step] = status
	m.attempts[step] = attempts
}

func (m *recordingMetrics) WorkflowFinished(_ string, status schema.WorkflowStatus, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows = append(m.workflows, status)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorkflow(t *testing.T, opts Options) *Workflow {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	return New(t.Name(), opts)
}

// value returns a body that yields v.
func value(v any) Body {
	return StepFunc(func(context.Context, *Results) (any, error) { return v, nil })
}

// failing returns a body that always fails.
func failing(msg string) Body {
	return StepFunc(func(context.Context, *Results) (any, error) { return nil, errors.New(msg) })
}

// counting wraps a body and counts invocations.
type counting struct {
	calls atomic.Int32
	fn    func(ctx context.Context, r *Results, call int) (any, error)
}

func (c *counting) Invoke(ctx context.Context, r *Results) (any, error) {
	n := int(c.calls.Add(1))
	return c.fn(ctx, r, n)
}

func always(v bool) Condition {
	return ConditionFunc(func(*Results) (bool, error) { return v, nil })
}
