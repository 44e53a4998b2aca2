package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeNonRetryable      = "NON_RETRYABLE"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeAssertionFailed   = "ASSERTION_FAILED"
	ErrCodeActionUnavailable = "ACTION_UNAVAILABLE"

	// ErrCodeStepExhausted marks a step whose every attempt failed.
	ErrCodeStepExhausted = "STEP_EXHAUSTED"
	// ErrCodeUnreachable marks a stalled run: steps remain but none can become ready.
	ErrCodeUnreachable = "UNREACHABLE_DEPENDENCY"
	// ErrCodeCriticalFailure marks a run aborted by a failed critical step.
	ErrCodeCriticalFailure = "CRITICAL_STEP_FAILED"
)

// Error is the structured error type used across stepwise.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code, so errors.Is(err, &Error{Code: c}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// IsCode reports whether any error in err's chain is an *Error with the given code.
func IsCode(err error, code string) bool {
	for err != nil {
		var se *Error
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// NonRetryable wraps err so the step executor stops retrying after this attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return NewError(ErrCodeNonRetryable, err.Error()).WithCause(err)
}
