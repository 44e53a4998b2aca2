package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/stepwise/pkg/schema"
)

// EventReader is the read side of an event log.
type EventReader interface {
	GetEvents(ctx context.Context, runID string, since int64) ([]*schema.Event, error)
}

// ReplayEvents rebuilds step states of a run from its event log. It is the
// source for runs that never reached SaveRun, e.g. after a crash.
// Returns an error if sequence gaps are detected.
func ReplayEvents(ctx context.Context, r EventReader, runID string) (map[string]*StepState, error) {
	events, err := r.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}
	return Replay(events), nil
}

// Replay folds step events into per-step states. Events without a step are ignored.
func Replay(events []*schema.Event) map[string]*StepState {
	states := make(map[string]*StepState)
	position := 0

	for _, e := range events {
		if e.StepID == "" {
			continue
		}
		st, ok := states[e.StepID]
		if !ok {
			st = &StepState{
				RunID:    e.RunID,
				StepID:   e.StepID,
				Status:   schema.StepStatusPending,
				Position: position,
			}
			position++
			states[e.StepID] = st
		}

		var p eventPayload
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &p)
		}

		switch e.Type {
		case schema.EventStepStarted:
			st.Status = schema.StepStatusRunning
			st.Attempts = 1
		case schema.EventStepRetrying:
			st.Attempts = p.Attempt + 1
			st.Error = p.Error
		case schema.EventStepCompleted:
			st.Status = schema.StepStatusCompleted
			st.Attempts = max(st.Attempts, p.Attempts)
			st.Error = ""
		case schema.EventStepFailed:
			st.Status = schema.StepStatusFailed
			st.Attempts = max(st.Attempts, p.Attempts)
			st.Critical = p.Critical
			st.Error = p.Error
		case schema.EventStepSkipped:
			st.Status = schema.StepStatusSkipped
			st.Reason = p.Reason
		}
	}
	return states
}

// eventPayload collects the fields step events carry.
type eventPayload struct {
	Attempt  int    `json:"attempt"`
	Attempts int    `json:"attempts"`
	Critical bool   `json:"critical"`
	Error    string `json:"error"`
	Reason   string `json:"reason"`
}
