package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepwise/pkg/schema"
)

// Workflow is a set of named steps executed once by Execute.
// Register steps first; a Workflow cannot be re-run.
type Workflow struct {
	name    string
	id      string
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	results *Results
	events  *emitter

	mu        sync.Mutex
	steps     []*step
	byName    map[string]*step
	status    schema.WorkflowStatus
	started   bool
	errors    []string
	executed  []string
	startedAt time.Time
	endedAt   time.Time

	// aborted is set once a critical failure is observed; no step launches after it.
	aborted atomic.Bool
}

// New creates an empty workflow in the pending state.
func New(name string, opts Options) *Workflow {
	opts = opts.withDefaults()
	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger.With(slog.String("component", "engine"), slog.String("workflow", name))
	return &Workflow{
		name:    name,
		id:      id,
		opts:    opts,
		logger:  logger,
		tracer:  opts.Tracer,
		results: NewResults(),
		events:  &emitter{runID: id, appender: opts.Events, logger: logger},
		byName:  make(map[string]*step),
		status:  schema.WorkflowStatusPending,
	}
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// ID returns the run ID.
func (w *Workflow) ID() string { return w.id }

// Results returns the shared result map. Entries appear as steps complete.
func (w *Workflow) Results() *Results { return w.results }

// StepNames returns registered step names in registration order.
func (w *Workflow) StepNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, len(w.steps))
	for i, s := range w.steps {
		names[i] = s.name
	}
	return names
}

// Graph analyses the registered dependency graph.
func (w *Workflow) Graph() *DAG {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.graphLocked()
}

func (w *Workflow) graphLocked() *DAG {
	order := make([]string, len(w.steps))
	deps := make(map[string][]string, len(w.steps))
	for i, s := range w.steps {
		order[i] = s.name
		deps[s.name] = s.deps
	}
	return BuildDAG(order, deps)
}

// AddStep registers a step. Dependencies may name steps that are registered later.
func (w *Workflow) AddStep(name string, body Body, opts ...StepOption) error {
	spec := StepSpec{Name: name, Body: body}
	for _, opt := range opts {
		opt(&spec)
	}
	return w.register(spec)
}

// AddConditionalStep registers a step that runs only once cond reports true.
func (w *Workflow) AddConditionalStep(name string, cond Condition, body Body, opts ...StepOption) error {
	if cond == nil {
		return schema.NewError(schema.ErrCodeValidation, "condition is nil").WithStep(name)
	}
	spec := StepSpec{Name: name, Body: body}
	for _, opt := range opts {
		opt(&spec)
	}
	spec.Condition = cond
	return w.register(spec)
}

// AddParallelSteps registers every spec with the parallel hint set.
// Registration stops at the first invalid spec; earlier specs stay registered.
func (w *Workflow) AddParallelSteps(specs ...StepSpec) error {
	for _, spec := range specs {
		spec.Parallel = true
		if err := w.register(spec); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) register(spec StepSpec) error {
	if spec.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "step name is empty")
	}
	if spec.Body == nil {
		return schema.NewError(schema.ErrCodeValidation, "step body is nil").WithStep(spec.Name)
	}
	if spec.Timeout < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "timeout must be positive, got %s", spec.Timeout).WithStep(spec.Name)
	}
	if spec.MaxRetries < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "retries must be >= 0, got %d", spec.MaxRetries).WithStep(spec.Name)
	}
	if spec.Timeout == 0 {
		spec.Timeout = w.opts.DefaultTimeout
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return schema.NewError(schema.ErrCodeInvalidTransition, "cannot register steps after execution started").WithStep(spec.Name)
	}
	if _, exists := w.byName[spec.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step %q already registered", spec.Name).WithStep(spec.Name)
	}

	s := &step{
		name:       spec.Name,
		index:      len(w.steps),
		deps:       dedupe(spec.DependsOn),
		cond:       spec.Condition,
		timeout:    spec.Timeout,
		maxRetries: spec.MaxRetries,
		critical:   spec.Critical,
		parallel:   spec.Parallel,
		body:       spec.Body,
		status:     schema.StepStatusPending,
	}
	w.steps = append(w.steps, s)
	w.byName[s.name] = s
	return nil
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// transitionWorkflow moves the workflow to `to` and emits the matching event.
func (w *Workflow) transitionWorkflow(ctx context.Context, to schema.WorkflowStatus, payload map[string]any) error {
	w.mu.Lock()
	if err := ValidateWorkflowTransition(w.id, w.status, to); err != nil {
		w.mu.Unlock()
		return err
	}
	w.status = to
	switch to {
	case schema.WorkflowStatusRunning:
		w.startedAt = time.Now()
	default:
		w.endedAt = time.Now()
	}
	w.mu.Unlock()

	w.events.emit(ctx, "", workflowEventType(to), payload)
	return nil
}

// transitionStep moves s to `to`, records timestamps and emits the matching event.
func (w *Workflow) transitionStep(ctx context.Context, s *step, to schema.StepStatus, payload map[string]any) error {
	w.mu.Lock()
	if err := ValidateStepTransition(s.name, s.status, to); err != nil {
		w.mu.Unlock()
		return err
	}
	s.status = to
	now := time.Now()
	switch to {
	case schema.StepStatusRunning:
		s.startedAt = now
	case schema.StepStatusCompleted:
		s.endedAt = now
		w.executed = append(w.executed, s.name)
	case schema.StepStatusFailed:
		s.endedAt = now
		if s.err != nil {
			w.errors = append(w.errors, s.err.Error())
		}
	case schema.StepStatusSkipped:
		s.endedAt = now
	}
	w.mu.Unlock()

	w.events.emit(ctx, s.name, stepEventType(to), payload)
	return nil
}

func (w *Workflow) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errors = append(w.errors, err.Error())
}
