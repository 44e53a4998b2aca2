package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// EventAppender receives lifecycle events as a run progresses.
// Implementations must be safe for concurrent use; parallel steps emit concurrently.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// AppenderFunc adapts a function to EventAppender.
type AppenderFunc func(ctx context.Context, event *schema.Event) error

// AppendEvent calls f(ctx, event).
func (f AppenderFunc) AppendEvent(ctx context.Context, event *schema.Event) error {
	return f(ctx, event)
}

// MultiAppender fans each event out to every appender, joining their errors.
type MultiAppender []EventAppender

// AppendEvent delivers the event to every non-nil appender.
func (m MultiAppender) AppendEvent(ctx context.Context, event *schema.Event) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.AppendEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidWorkflowTransitions defines the allowed state transitions for workflows.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusPending:   {schema.WorkflowStatusRunning},
	schema.WorkflowStatusRunning:   {schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed, schema.WorkflowStatusCancelled},
	schema.WorkflowStatusCompleted: {},
	schema.WorkflowStatusFailed:    {},
	schema.WorkflowStatusCancelled: {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {},
	schema.StepStatusSkipped:   {},
}

// ValidateWorkflowTransition returns an INVALID_TRANSITION error unless from → to is allowed.
func ValidateWorkflowTransition(runID string, from, to schema.WorkflowStatus) error {
	if slices.Contains(ValidWorkflowTransitions[from], to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid workflow transition: %s -> %s", from, to).
		WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
}

// ValidateStepTransition returns an INVALID_TRANSITION error unless from → to is allowed.
func ValidateStepTransition(stepID string, from, to schema.StepStatus) error {
	if slices.Contains(ValidStepTransitions[from], to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid step transition: %s -> %s", from, to).
		WithStep(stepID).
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}

func workflowEventType(to schema.WorkflowStatus) string {
	switch to {
	case schema.WorkflowStatusRunning:
		return schema.EventWorkflowStarted
	case schema.WorkflowStatusCompleted:
		return schema.EventWorkflowCompleted
	case schema.WorkflowStatusFailed:
		return schema.EventWorkflowFailed
	case schema.WorkflowStatusCancelled:
		return schema.EventWorkflowCancelled
	default:
		return ""
	}
}

func stepEventType(to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	case schema.StepStatusSkipped:
		return schema.EventStepSkipped
	default:
		return ""
	}
}

// emitter stamps events with the run ID and a per-run sequence and hands them
// to the appender. Delivery failures are logged, never propagated into the run.
type emitter struct {
	runID    string
	appender EventAppender
	logger   *slog.Logger
	seq      atomic.Int64
}

func (e *emitter) emit(ctx context.Context, stepID, eventType string, payload map[string]any) {
	if e.appender == nil || eventType == "" {
		return
	}
	ev := &schema.Event{
		RunID:     e.runID,
		StepID:    stepID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Sequence:  e.seq.Add(1),
	}
	if len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			e.logger.WarnContext(ctx, "event payload not serializable", "event", eventType, "error", err)
		} else {
			ev.Payload = raw
		}
	}
	// Detached so a cancelled run still records its final events.
	if err := e.appender.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.WarnContext(ctx, "event delivery failed", "event", eventType, "error", err)
	}
}
