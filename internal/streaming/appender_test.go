package streaming

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/pkg/schema"
)

func TestFromEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	se := FromEvent(&schema.Event{
		RunID: "r1", StepID: "a", Type: schema.EventStepFailed,
		Payload: []byte(`{"attempts":2,"error":"boom"}`), Timestamp: ts, Sequence: 7,
	})
	assert.Equal(t, "r1", se.RunID)
	assert.Equal(t, int64(7), se.Sequence)
	assert.Equal(t, ts, se.Timestamp)
	assert.Equal(t, map[string]any{"attempts": float64(2), "error": "boom"}, se.Payload)

	raw := FromEvent(&schema.Event{RunID: "r1", Type: "x", Payload: []byte("not json")})
	assert.Equal(t, "not json", raw.Payload)
}

func TestAppender_StreamsWorkflowRun(t *testing.T) {
	hub := NewMemoryHubWithBuffer(256)
	ctx := context.Background()

	w := engine.New("watched", engine.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events: NewAppender(hub),
	})
	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		RunID:      w.ID(),
		EventTypes: []string{schema.EventStepCompleted, schema.EventWorkflowCompleted},
	})
	require.NoError(t, err)
	defer cancel()

	for _, name := range []string{"a", "b"} {
		require.NoError(t, w.AddStep(name, engine.StepFunc(func(context.Context, *engine.Results) (any, error) {
			return name, nil
		})))
	}
	report, err := w.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, schema.WorkflowStatusCompleted, report.Status)

	var got []string
	for range 3 {
		e := receive(t, ch)
		got = append(got, e.EventType+":"+e.StepID)
	}
	assert.Equal(t, []string{
		schema.EventStepCompleted + ":a",
		schema.EventStepCompleted + ":b",
		schema.EventWorkflowCompleted + ":",
	}, got)
}
