package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/pkg/schema"
)

// executeStep runs s through up to maxRetries+1 attempts and leaves it
// completed or failed. It does nothing when the run is cancelled, leaving s
// pending. Whether s may launch after a critical failure is decided by the
// caller.
func (w *Workflow) executeStep(ctx context.Context, s *step) {
	if ctx.Err() != nil {
		return
	}

	ctx = logging.WithStepID(ctx, s.name)
	ctx, span := w.tracer.Start(ctx, "step "+s.name, trace.WithAttributes(
		attribute.String("stepwise.step", s.name),
		attribute.Bool("stepwise.critical", s.critical),
		attribute.Bool("stepwise.parallel", s.parallel),
		attribute.Int("stepwise.max_retries", s.maxRetries),
	))
	defer span.End()

	if err := w.transitionStep(ctx, s, schema.StepStatusRunning, map[string]any{
		"max_attempts": s.maxRetries + 1,
		"timeout":      s.timeout.String(),
	}); err != nil {
		w.logger.ErrorContext(ctx, "step start rejected", slog.String("error", err.Error()))
		return
	}

	maxAttempts := s.maxRetries + 1
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		w.setAttempts(s, attempt)
		actx := logging.WithAttempt(ctx, attempt)

		result, err := w.runAttempt(actx, s, attempt)
		if err == nil {
			if err = w.results.set(s.name, result); err == nil {
				w.recordBreakerSuccess(s)
				w.completeStep(actx, s, result)
				span.SetAttributes(attribute.Int("stepwise.attempts", attempt))
				return
			}
		}

		lastErr = err
		if !schema.IsCode(err, schema.ErrCodeCircuitOpen) {
			w.recordBreakerFailure(actx, s)
		}
		w.logger.WarnContext(actx, "attempt failed",
			slog.Int("max_attempts", maxAttempts),
			slog.String("error", err.Error()))

		if attempt >= maxAttempts || !IsRetryableError(err) || ctx.Err() != nil {
			break
		}

		delay := ComputeBackoff(w.opts.Backoff, attempt-1)
		w.events.emit(actx, s.name, schema.EventStepRetrying, map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			break
		}
	}

	var failure error
	if cerr := ctx.Err(); cerr != nil {
		failure = schema.NewErrorf(schema.ErrCodeCancelled, "cancelled during attempt %d", attempt).
			WithStep(s.name).WithCause(lastErr)
	} else {
		failure = schema.NewErrorf(schema.ErrCodeStepExhausted, "failed after %d attempt(s): %v", attempt, lastErr).
			WithStep(s.name).
			WithCause(lastErr).
			WithDetails(map[string]any{"attempts": attempt, "max_attempts": maxAttempts})
	}
	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Error())
	w.failStep(ctx, s, failure)
}

// runAttempt invokes the body once under the step timeout. The body runs in its
// own goroutine so the attempt ends at the deadline even if the body ignores
// ctx; a late result from such a body is discarded.
func (w *Workflow) runAttempt(ctx context.Context, s *step, attempt int) (any, error) {
	if w.opts.Breakers != nil {
		if err := w.opts.Breakers.AllowRequest(s.name); err != nil {
			return nil, err
		}
	}

	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r).WithStep(s.name)}
			}
		}()
		v, err := s.body.Invoke(actx, w.results)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-actx.Done():
		// Prefer a result that raced the deadline.
		select {
		case o := <-done:
			return o.value, o.err
		default:
		}
		if ctx.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeCancelled, "attempt %d cancelled", attempt).
				WithStep(s.name).WithCause(ctx.Err())
		}
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "attempt %d exceeded timeout %s", attempt, s.timeout).
			WithStep(s.name).WithCause(actx.Err())
	}
}

func (w *Workflow) completeStep(ctx context.Context, s *step, result any) {
	w.mu.Lock()
	s.result = result
	attempts := s.attempts
	w.mu.Unlock()

	if err := w.transitionStep(ctx, s, schema.StepStatusCompleted, map[string]any{"attempts": attempts}); err != nil {
		w.logger.ErrorContext(ctx, "step completion rejected", slog.String("error", err.Error()))
		return
	}
	d := w.stepDuration(s)
	w.opts.Metrics.StepFinished(w.name, s.name, schema.StepStatusCompleted, attempts, d)
	w.logger.InfoContext(ctx, "step completed", slog.Int("attempts", attempts), slog.Duration("duration", d))
}

func (w *Workflow) failStep(ctx context.Context, s *step, failure error) {
	w.mu.Lock()
	s.err = failure
	attempts := s.attempts
	w.mu.Unlock()

	if err := w.transitionStep(ctx, s, schema.StepStatusFailed, map[string]any{
		"attempts": attempts,
		"critical": s.critical,
		"error":    failure.Error(),
	}); err != nil {
		w.logger.ErrorContext(ctx, "step failure rejected", slog.String("error", err.Error()))
		return
	}
	d := w.stepDuration(s)
	w.opts.Metrics.StepFinished(w.name, s.name, schema.StepStatusFailed, attempts, d)
	w.logger.ErrorContext(ctx, "step failed",
		slog.Int("attempts", attempts),
		slog.Bool("critical", s.critical),
		slog.String("error", failure.Error()))

	if s.critical {
		w.aborted.Store(true)
	}
}

func (w *Workflow) recordBreakerSuccess(s *step) {
	if w.opts.Breakers != nil {
		w.opts.Breakers.RecordSuccess(s.name)
	}
}

func (w *Workflow) recordBreakerFailure(ctx context.Context, s *step) {
	if w.opts.Breakers == nil {
		return
	}
	before := w.opts.Breakers.GetState(s.name)
	if after := w.opts.Breakers.RecordFailure(s.name); after == CircuitOpen && before != CircuitOpen {
		w.events.emit(ctx, s.name, schema.EventCircuitBreakerOpen, map[string]any{
			"stats": w.opts.Breakers.GetStats(s.name),
		})
	}
}

func (w *Workflow) setAttempts(s *step, n int) {
	w.mu.Lock()
	s.attempts = n
	w.mu.Unlock()
}

func (w *Workflow) stepDuration(s *step) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return s.duration()
}
