package engine

import (
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// StepResult is the outcome of one step in a Report.
type StepResult struct {
	Name      string            `json:"name"`
	Status    schema.StepStatus `json:"status"`
	Attempts  int               `json:"attempts"`
	Duration  time.Duration     `json:"duration_ns"`
	Error     string            `json:"error,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Critical  bool              `json:"critical,omitempty"`
	Parallel  bool              `json:"parallel,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
}

// Report is the final outcome of Execute.
type Report struct {
	WorkflowID    string                 `json:"workflow_id"`
	Name          string                 `json:"name"`
	Status        schema.WorkflowStatus  `json:"status"`
	Results       map[string]any         `json:"results"`
	Errors        []string               `json:"errors"`
	ExecutedSteps []string               `json:"executed_steps"` // completed steps, in completion order
	FailedSteps   []string               `json:"failed_steps"`
	SkippedSteps  []string               `json:"skipped_steps"`
	PendingSteps  []string               `json:"pending_steps"`
	Steps         map[string]*StepResult `json:"steps"`
	Order         []string               `json:"order"` // registration order
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   time.Time              `json:"completed_at"`
	Duration      time.Duration          `json:"duration_ns"`
}

// StatusSnapshot is a live view of a workflow, safe to take while it runs.
type StatusSnapshot struct {
	WorkflowID     string                `json:"workflow_id"`
	Name           string                `json:"name"`
	Status         schema.WorkflowStatus `json:"status"`
	TotalSteps     int                   `json:"total_steps"`
	CompletedCount int                   `json:"completed_count"`
	FailedCount    int                   `json:"failed_count"`
	SkippedCount   int                   `json:"skipped_count"`
	RunningCount   int                   `json:"running_count"`
	PendingCount   int                   `json:"pending_count"`
	Errors         []string              `json:"errors"`
}

// Status returns a snapshot of the workflow's progress.
func (w *Workflow) Status() StatusSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StatusSnapshot{
		WorkflowID: w.id,
		Name:       w.name,
		Status:     w.status,
		TotalSteps: len(w.steps),
		Errors:     append([]string{}, w.errors...),
	}
	for _, s := range w.steps {
		switch s.status {
		case schema.StepStatusCompleted:
			snap.CompletedCount++
		case schema.StepStatusFailed:
			snap.FailedCount++
		case schema.StepStatusSkipped:
			snap.SkippedCount++
		case schema.StepStatusRunning:
			snap.RunningCount++
		case schema.StepStatusPending:
			snap.PendingCount++
		}
	}
	return snap
}

func (w *Workflow) report() *Report {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := &Report{
		WorkflowID:    w.id,
		Name:          w.name,
		Status:        w.status,
		Results:       w.results.Snapshot(),
		Errors:        append([]string{}, w.errors...),
		ExecutedSteps: append([]string{}, w.executed...),
		FailedSteps:   []string{},
		SkippedSteps:  []string{},
		PendingSteps:  []string{},
		Steps:         make(map[string]*StepResult, len(w.steps)),
		Order:         make([]string, 0, len(w.steps)),
		StartedAt:     w.startedAt,
		CompletedAt:   w.endedAt,
	}
	if !w.startedAt.IsZero() && !w.endedAt.IsZero() {
		r.Duration = w.endedAt.Sub(w.startedAt)
	}

	for _, s := range w.steps {
		sr := &StepResult{
			Name:      s.name,
			Status:    s.status,
			Attempts:  s.attempts,
			Duration:  s.duration(),
			Reason:    s.reason,
			Critical:  s.critical,
			Parallel:  s.parallel,
			DependsOn: append([]string{}, s.deps...),
		}
		if s.err != nil {
			sr.Error = s.err.Error()
		}
		r.Steps[s.name] = sr
		r.Order = append(r.Order, s.name)

		switch s.status {
		case schema.StepStatusFailed:
			r.FailedSteps = append(r.FailedSteps, s.name)
		case schema.StepStatusSkipped:
			r.SkippedSteps = append(r.SkippedSteps, s.name)
		case schema.StepStatusPending:
			r.PendingSteps = append(r.PendingSteps, s.name)
		}
	}
	return r
}

// Succeeded reports whether the run completed without failures.
func (r *Report) Succeeded() bool {
	return r.Status == schema.WorkflowStatusCompleted
}
