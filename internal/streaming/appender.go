package streaming

import (
	"context"
	"encoding/json"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/pkg/schema"
)

// Appender publishes engine events to a hub.
type Appender struct {
	hub EventHub
}

var _ engine.EventAppender = (*Appender)(nil)

// NewAppender creates an Appender that publishes to hub.
func NewAppender(hub EventHub) *Appender {
	return &Appender{hub: hub}
}

// AppendEvent converts the event and publishes it. The payload is decoded so
// subscribers see plain values.
func (a *Appender) AppendEvent(ctx context.Context, event *schema.Event) error {
	return a.hub.Publish(ctx, FromEvent(event))
}

// FromEvent converts a persisted event into a StreamEvent.
func FromEvent(event *schema.Event) StreamEvent {
	se := StreamEvent{
		RunID:     event.RunID,
		StepID:    event.StepID,
		EventType: event.Type,
		Sequence:  event.Sequence,
		Timestamp: event.Timestamp,
	}
	if len(event.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			se.Payload = payload
		} else {
			se.Payload = string(event.Payload)
		}
	}
	return se
}
