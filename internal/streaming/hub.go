package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted during a run.
type StreamEvent struct {
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id,omitempty"`
	EventType string    `json:"event_type"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	StepIDs    []string `json:"step_ids,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
