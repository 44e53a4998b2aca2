package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/pkg/schema"
)

// Run is the persisted outcome of one workflow execution.
type Run struct {
	ID            string                     `json:"id"`
	Name          string                     `json:"name"`
	Status        schema.WorkflowStatus      `json:"status"`
	Definition    *schema.WorkflowDefinition `json:"definition,omitempty"`
	Inputs        map[string]any             `json:"inputs,omitempty"`
	Results       json.RawMessage            `json:"results,omitempty"`
	Errors        []string                   `json:"errors,omitempty"`
	ExecutedSteps []string                   `json:"executed_steps,omitempty"`
	FailedSteps   []string                   `json:"failed_steps,omitempty"`
	SkippedSteps  []string                   `json:"skipped_steps,omitempty"`
	Steps         []*StepState               `json:"steps,omitempty"`
	StartedAt     *time.Time                 `json:"started_at,omitempty"`
	CompletedAt   *time.Time                 `json:"completed_at,omitempty"`
	DurationMs    int64                      `json:"duration_ms"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// StepState is the final state of one step of a run.
type StepState struct {
	RunID      string            `json:"run_id"`
	StepID     string            `json:"step_id"`
	Status     schema.StepStatus `json:"status"`
	Attempts   int               `json:"attempts"`
	Output     json.RawMessage   `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Critical   bool              `json:"critical,omitempty"`
	Parallel   bool              `json:"parallel,omitempty"`
	Position   int               `json:"position"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// RunFilter controls ListRuns.
type RunFilter struct {
	Name   string
	Status *schema.WorkflowStatus
	Since  *time.Time
	Limit  int
	Offset int
}

// EventFilter controls GetEventsByType.
type EventFilter struct {
	RunID string
	Since *time.Time
	Limit int
}

// NewRun converts an engine report into a Run. def and inputs are optional and
// recorded as given.
func NewRun(report *engine.Report, def *schema.WorkflowDefinition, inputs map[string]any) (*Run, error) {
	if report == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "report is nil")
	}
	results, err := json.Marshal(report.Results)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}

	run := &Run{
		ID:            report.WorkflowID,
		Name:          report.Name,
		Status:        report.Status,
		Definition:    def,
		Inputs:        inputs,
		Results:       results,
		Errors:        report.Errors,
		ExecutedSteps: report.ExecutedSteps,
		FailedSteps:   report.FailedSteps,
		SkippedSteps:  report.SkippedSteps,
		DurationMs:    report.Duration.Milliseconds(),
	}
	if !report.StartedAt.IsZero() {
		t := report.StartedAt
		run.StartedAt = &t
	}
	if !report.CompletedAt.IsZero() {
		t := report.CompletedAt
		run.CompletedAt = &t
	}

	for i, name := range report.Order {
		sr, ok := report.Steps[name]
		if !ok {
			continue
		}
		st := &StepState{
			RunID:      report.WorkflowID,
			StepID:     name,
			Status:     sr.Status,
			Attempts:   sr.Attempts,
			Error:      sr.Error,
			Reason:     sr.Reason,
			Critical:   sr.Critical,
			Parallel:   sr.Parallel,
			Position:   i,
			DurationMs: sr.Duration.Milliseconds(),
		}
		if v, ok := report.Results[name]; ok {
			out, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshal output of step %s: %w", name, err)
			}
			st.Output = out
		}
		run.Steps = append(run.Steps, st)
	}
	return run, nil
}
