package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	events := &recordingAppender{}
	w := newTestWorkflow(t, Options{Events: events})
	body := &counting{fn: func(_ context.Context, _ *Results, call int) (any, error) {
		if call < 3 {
			return nil, errors.New("flaky")
		}
		return "third time", nil
	}}
	require.NoError(t, w.AddStep("flaky", body, WithRetries(2)))

	report, err := w.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(3), body.calls.Load())
	assert.Equal(t, 3, report.Steps["flaky"].Attempts)
	assert.Equal(t, schema.StepStatusCompleted, report.Steps["flaky"].Status)
	assert.Equal(t, "third time", report.Results["flaky"])
	assert.Equal(t, []string{
		schema.EventStepStarted,
		schema.EventStepRetrying,
		schema.EventStepRetrying,
		schema.EventStepCompleted,
	}, events.ForStep("flaky"))
}

func TestExecutor_ExhaustsRetries(t *testing.T) {
	w := newTestWorkflow(t, Options{})
	body := &counting{fn: func(context.Context, *Results, int) (any, error) {
		return nil, errors.New("still down")
	}}
	require.NoError(t, w.AddStep("down", body, WithRetries(2)))

	report, err := w.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(3), body.calls.Load())
	sr := report.Steps["down"]
	assert.Equal(t, schema.StepStatusFailed, sr.Status)
	assert.Equal(t, 3, sr.Attempts)
	assert.Contains(t, sr.Error, schema.ErrCodeStepExhausted)
	assert.Contains(t, sr.Error, "still down")
	assert.NotContains(t, report.Results, "down")
}

func TestExecutor_ZeroRetriesSingleAttempt(t *testing.T) {
	w := newTestWorkflow(t, Options{})
	body := &counting{fn: func(context.Context, *Results, int) (any, error) {
		return nil, errors.New("no")
	}}
	require.NoError(t, w.AddStep("once", body))

	_, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), body.calls.Load())
}

func TestExecutor_TimeoutCountsAsFailedAttempt(t *testing.T) {
	w := newTestWorkflow(t, Options{})
	body := &counting{fn: func(ctx context.Context, _ *Results, call int) (any, error) {
		if call == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "fast", nil
	}}
	require.NoError(t, w.AddStep("slow-then-fast", body, WithTimeout(20*time.Millisecond), WithRetries(1)))

	report, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), body.calls.Load())
	assert.Equal(t, 2, report.Steps["slow-then-fast"].Attempts)
	assert.Equal(t, schema.StepStatusCompleted, report.Steps["slow-then-fast"].Status)
}

func TestExecutor_TimeoutWithBodyIgnoringContext(t *testing.T) {
	w := newTestWorkflow(t, Options{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, w.AddStep("stubborn", StepFunc(func(context.Context, *Results) (any, error) {
		<-release
		return "too late", nil
	}), WithTimeout(20*time.Millisecond)))

	start := time.Now()
	report, err := w.Execute(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	sr := report.Steps["stubborn"]
	assert.Equal(t, schema.StepStatusFailed, sr.Status)
	assert.Contains(t, sr.Error, "exceeded timeout")
	assert.NotContains(t, report.Results, "stubborn")
}

func TestExecutor_TimeoutErrorCode(t *testing.T) {
	w := newTestWorkflow(t, Options{})
	require.NoError(t, w.AddStep("t", StepFunc(func(ctx context.Context, _ *Results) (any, error) {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil, ctx.Err()
	}), WithTimeout(10*time.Millisecond), Critical()))

	_, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCriticalFailure))
	assert.True(t, schema.IsCode(err, schema.ErrCodeStepExhausted))
	assert.True(t, schema.IsCode(err, schema.ErrCodeTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_PanicIsFailedAttempt(t *testing.T) {
	w := newTestWorkflow(t, Options{})
	body := &counting{fn: func(_ context.Context, _ *Results, call int) (any, error) {
		if call == 1 {
			panic("index out of range")
		}
		return "recovered", nil
	}}
	require.NoError(t, w.AddStep("panicky", body, WithRetries(1)))

	report, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", report.Results["panicky"])
	assert.Equal(t, 2, report.Steps["panicky"].Attempts)
}

func TestExecutor_NonRetryableStopsEarly(t *testing.T) {
	w := newTestWorkflow(t, Options{})
	body := &counting{fn: func(context.Context, *Results, int) (any, error) {
		return nil, schema.NonRetryable(errors.New("400 bad request"))
	}}
	require.NoError(t, w.AddStep("bad-input", body, WithRetries(5)))

	report, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), body.calls.Load())
	assert.Equal(t, 1, report.Steps["bad-input"].Attempts)
}

func TestExecutor_BackoffBetweenAttempts(t *testing.T) {
	w := newTestWorkflow(t, Options{Backoff: BackoffPolicy{Strategy: schema.BackoffConstant, Delay: 30 * time.Millisecond}})
	body := &counting{fn: func(_ context.Context, _ *Results, call int) (any, error) {
		if call == 1 {
			return nil, errors.New("first fails")
		}
		return nil, nil
	}}
	require.NoError(t, w.AddStep("wait", body, WithRetries(1)))

	start := time.Now()
	_, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestExecutor_CircuitBreakerShortCircuits(t *testing.T) {
	breakers := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, HalfOpenMax: 1})
	events := &recordingAppender{}
	w := newTestWorkflow(t, Options{Breakers: breakers, Events: events})
	body := &counting{fn: func(context.Context, *Results, int) (any, error) {
		return nil, errors.New("upstream down")
	}}
	require.NoError(t, w.AddStep("upstream", body, WithRetries(4)))

	report, err := w.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), body.calls.Load(), "open breaker rejects the retry without invoking the body")
	assert.Equal(t, 2, report.Steps["upstream"].Attempts)
	assert.Contains(t, report.Steps["upstream"].Error, "circuit breaker open")
	assert.Equal(t, CircuitOpen, breakers.GetState("upstream"))
	assert.Contains(t, events.ForStep("upstream"), schema.EventCircuitBreakerOpen)

	// A later run of the same step is rejected outright.
	w2 := newTestWorkflow(t, Options{Breakers: breakers})
	require.NoError(t, w2.AddStep("upstream", body))
	report2, err := w2.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), body.calls.Load())
	assert.Equal(t, schema.StepStatusFailed, report2.Steps["upstream"].Status)
}

func TestExecutor_CircuitBreakerSuccessCloses(t *testing.T) {
	breakers := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Hour})
	w := newTestWorkflow(t, Options{Breakers: breakers})
	body := &counting{fn: func(_ context.Context, _ *Results, call int) (any, error) {
		if call < 3 {
			return nil, errors.New("flaky")
		}
		return "ok", nil
	}}
	require.NoError(t, w.AddStep("svc", body, WithRetries(2)))

	_, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, breakers.GetState("svc"))
	assert.Zero(t, breakers.GetStats("svc").ConsecutiveFailures)
}
