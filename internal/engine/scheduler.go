package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/pkg/schema"
)

// Execute runs every registered step to a terminal state in dependency rounds
// and returns the final report. The report is non-nil whenever execution began,
// including after an abort. The returned error is set when the run was aborted:
// CRITICAL_STEP_FAILED, UNREACHABLE_DEPENDENCY or CANCELLED. Failures of
// non-critical steps are reported only through the report.
func (w *Workflow) Execute(ctx context.Context) (*Report, error) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "workflow already executed").
			WithDetails(map[string]any{"run_id": w.id})
	}
	w.started = true
	total := len(w.steps)
	w.mu.Unlock()

	ctx = logging.WithRunID(ctx, w.id)
	ctx, span := w.tracer.Start(ctx, "workflow "+w.name, trace.WithAttributes(
		attribute.String("stepwise.workflow", w.name),
		attribute.String("stepwise.run_id", w.id),
		attribute.Int("stepwise.steps", total),
	))
	defer span.End()

	if err := w.transitionWorkflow(ctx, schema.WorkflowStatusRunning, map[string]any{"name": w.name, "steps": total}); err != nil {
		return w.report(), err
	}
	w.logger.InfoContext(ctx, "workflow started", slog.Int("steps", total))

	runErr := w.runRounds(ctx)

	final := schema.WorkflowStatusCompleted
	switch {
	case schema.IsCode(runErr, schema.ErrCodeCancelled):
		final = schema.WorkflowStatusCancelled
	case runErr != nil || w.countStatus(schema.StepStatusFailed) > 0:
		final = schema.WorkflowStatusFailed
	}
	if runErr != nil {
		w.recordError(runErr)
		span.RecordError(runErr)
	}
	if final != schema.WorkflowStatusCompleted {
		span.SetStatus(codes.Error, string(final))
	}

	payload := map[string]any{"status": string(final)}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	if err := w.transitionWorkflow(ctx, final, payload); err != nil {
		w.logger.ErrorContext(ctx, "final transition rejected", slog.String("error", err.Error()))
	}

	report := w.report()
	w.opts.Metrics.WorkflowFinished(w.name, final, report.Duration)
	w.logger.InfoContext(ctx, "workflow finished",
		slog.String("status", string(final)),
		slog.Int("completed", len(report.ExecutedSteps)),
		slog.Int("failed", len(report.FailedSteps)),
		slog.Int("skipped", len(report.SkippedSteps)),
		slog.Duration("duration", report.Duration),
	)
	return report, runErr
}

// runRounds is the scheduling loop. Each round launches every ready step:
// parallel-hinted steps together, then the rest one at a time in registration
// order.
func (w *Workflow) runRounds(ctx context.Context) error {
	for round := 1; ; round++ {
		if w.allTerminal() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return w.cancelledError(ctx, err)
		}

		ready := w.readySteps(ctx)
		if len(ready) == 0 {
			if w.resolveStall(ctx) {
				continue
			}
			return w.unreachableError(ctx)
		}

		var par, seq []*step
		for _, s := range ready {
			if s.parallel {
				par = append(par, s)
			} else {
				seq = append(seq, s)
			}
		}
		w.events.emit(ctx, "", schema.EventRoundStarted, map[string]any{
			"round":      round,
			"parallel":   stepNames(par),
			"sequential": stepNames(seq),
		})
		w.logger.DebugContext(ctx, "round started",
			slog.Int("round", round),
			slog.Any("parallel", stepNames(par)),
			slog.Any("sequential", stepNames(seq)),
		)

		if len(par) > 0 {
			w.runBatch(ctx, par)
			for _, s := range par {
				if w.criticalFailed(s) {
					return w.criticalError(ctx, s)
				}
			}
		}

		for _, s := range seq {
			if err := ctx.Err(); err != nil {
				return w.cancelledError(ctx, err)
			}
			w.executeStep(ctx, s)
			if w.criticalFailed(s) {
				return w.criticalError(ctx, s)
			}
		}
	}
}

// readySteps returns pending steps whose dependencies all completed and whose
// condition holds, in registration order.
func (w *Workflow) readySteps(ctx context.Context) []*step {
	w.mu.Lock()
	var candidates []*step
	for _, s := range w.steps {
		if s.status == schema.StepStatusPending && w.depsCompletedLocked(s) {
			candidates = append(candidates, s)
		}
	}
	w.mu.Unlock()

	var ready []*step
	for _, s := range candidates {
		if w.evaluateCondition(ctx, s) {
			ready = append(ready, s)
		}
	}
	return ready
}

// evaluateCondition reports whether s may run. Errors and panics count as false.
func (w *Workflow) evaluateCondition(ctx context.Context, s *step) (ok bool) {
	if s.cond == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.WarnContext(ctx, "condition panicked, treating as false",
				slog.String("step_id", s.name), slog.Any("panic", r))
			ok = false
		}
	}()

	ok, err := s.cond.Test(w.results)
	if err != nil {
		w.logger.WarnContext(ctx, "condition failed, treating as false",
			slog.String("step_id", s.name), slog.String("error", err.Error()))
		return false
	}
	return ok
}

// resolveStall skips pending steps that can no longer run and reports whether
// any were skipped. With no ready step left no further result can appear, so
// a step whose dependencies completed but whose condition is false will never
// run; neither will a step that depends on a failed or skipped step. Skipping
// repeats until nothing changes.
func (w *Workflow) resolveStall(ctx context.Context) bool {
	progressed := false
	for {
		type skip struct {
			s      *step
			reason string
		}
		var skips []skip

		w.mu.Lock()
		for _, s := range w.steps {
			if s.status != schema.StepStatusPending {
				continue
			}
			if dep, st := w.blockingDepLocked(s); dep != "" {
				s.reason = fmt.Sprintf("dependency %q %s", dep, st)
				skips = append(skips, skip{s, s.reason})
			} else if w.depsCompletedLocked(s) {
				s.reason = "condition not met"
				skips = append(skips, skip{s, s.reason})
			}
		}
		w.mu.Unlock()

		if len(skips) == 0 {
			return progressed
		}
		for _, sk := range skips {
			if err := w.transitionStep(ctx, sk.s, schema.StepStatusSkipped, map[string]any{"reason": sk.reason}); err != nil {
				w.logger.ErrorContext(ctx, "skip rejected", slog.String("step_id", sk.s.name), slog.String("error", err.Error()))
				continue
			}
			w.opts.Metrics.StepFinished(w.name, sk.s.name, schema.StepStatusSkipped, 0, 0)
			w.logger.InfoContext(ctx, "step skipped", slog.String("step_id", sk.s.name), slog.String("reason", sk.reason))
		}
		progressed = true
	}
}

func (w *Workflow) unreachableError(ctx context.Context) error {
	w.mu.Lock()
	dag := w.graphLocked()
	var stuck []string
	for _, s := range w.steps {
		if !s.status.Terminal() {
			stuck = append(stuck, s.name)
		}
	}
	w.mu.Unlock()

	missing := make(map[string][]string)
	for _, name := range stuck {
		if m := dag.Missing[name]; len(m) > 0 {
			missing[name] = m
		}
	}

	msg := fmt.Sprintf("%d step(s) can never become ready: %s", len(stuck), strings.Join(stuck, ", "))
	if len(missing) > 0 {
		var parts []string
		for _, name := range stuck {
			if m, ok := missing[name]; ok {
				parts = append(parts, fmt.Sprintf("%s needs %s", name, strings.Join(m, ", ")))
			}
		}
		msg += "; unregistered dependencies: " + strings.Join(parts, "; ")
	}
	if len(dag.Cyclic) > 0 {
		msg += "; dependency cycle through: " + strings.Join(dag.Cyclic, ", ")
	}

	details := map[string]any{"stuck": stuck}
	if len(missing) > 0 {
		details["missing"] = missing
	}
	if len(dag.Cyclic) > 0 {
		details["cycle"] = dag.Cyclic
	}

	w.events.emit(ctx, "", schema.EventStall, details)
	w.logger.ErrorContext(ctx, "workflow stalled", slog.Any("stuck", stuck))
	return schema.NewError(schema.ErrCodeUnreachable, msg).WithDetails(details)
}

func (w *Workflow) criticalError(ctx context.Context, s *step) error {
	w.aborted.Store(true)

	w.mu.Lock()
	cause := s.err
	var pending []string
	for _, other := range w.steps {
		if other.status == schema.StepStatusPending {
			pending = append(pending, other.name)
		}
	}
	w.mu.Unlock()

	w.events.emit(ctx, s.name, schema.EventCriticalAbort, map[string]any{"pending": pending})
	w.logger.ErrorContext(ctx, "critical step failed, aborting",
		slog.String("step_id", s.name), slog.Any("pending", pending))
	return schema.NewError(schema.ErrCodeCriticalFailure, "critical step failed, workflow aborted").
		WithStep(s.name).
		WithCause(cause).
		WithDetails(map[string]any{"pending": pending})
}

func (w *Workflow) cancelledError(ctx context.Context, cause error) error {
	w.logger.WarnContext(ctx, "workflow cancelled", slog.String("error", cause.Error()))
	return schema.NewError(schema.ErrCodeCancelled, "workflow cancelled").WithCause(cause)
}

func (w *Workflow) depsCompletedLocked(s *step) bool {
	for _, dep := range s.deps {
		d, ok := w.byName[dep]
		if !ok || d.status != schema.StepStatusCompleted {
			return false
		}
	}
	return true
}

// blockingDepLocked returns the first dependency that failed or was skipped.
func (w *Workflow) blockingDepLocked(s *step) (string, schema.StepStatus) {
	for _, dep := range s.deps {
		if d, ok := w.byName[dep]; ok && (d.status == schema.StepStatusFailed || d.status == schema.StepStatusSkipped) {
			return dep, d.status
		}
	}
	return "", ""
}

func (w *Workflow) criticalFailed(s *step) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return s.critical && s.status == schema.StepStatusFailed
}

func (w *Workflow) allTerminal() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.steps {
		if !s.status.Terminal() {
			return false
		}
	}
	return true
}

func (w *Workflow) countStatus(st schema.StepStatus) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, s := range w.steps {
		if s.status == st {
			n++
		}
	}
	return n
}

func stepNames(steps []*step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}
