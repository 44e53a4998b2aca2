package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepPath(t *testing.T) {
	assert.Equal(t, "steps[0]", StepPath(0, ""))
	assert.Equal(t, "steps[2].timeout", StepPath(2, "timeout"))
	assert.Equal(t, "steps[1].depends_on[0]", StepPath(1, "depends_on[0]"))
}

func TestValidationResult_StepIssues(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())

	r.Step(0, "fetch").Error("action", ErrCodeActionUnavailable, `action "ftp.download" not registered`)
	r.Step(1, "evalA").Warning("retries", ErrCodeValidation, "high retry count (12) may cause excessive delays")
	r.Step(1, "evalA").Error("depends_on[0]", ErrCodeValidation, `references non-existent step "ghost"`)

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 2)
	require.Len(t, r.Warnings, 1)

	assert.Equal(t, ValidationIssue{
		Path:     "steps[0].action",
		Step:     "fetch",
		Code:     ErrCodeActionUnavailable,
		Message:  `action "ftp.download" not registered`,
		Severity: SeverityError,
	}, r.Errors[0])
	assert.Equal(t, "steps[1].depends_on[0]", r.Errors[1].Path)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)

	assert.Equal(t, []string{"fetch", "evalA"}, r.FailingSteps())
	assert.Len(t, r.IssuesFor("evalA"), 2)
	assert.Empty(t, r.IssuesFor("report"))
}

func TestValidationResult_WarningsOnlyIsValid(t *testing.T) {
	r := &ValidationResult{}
	r.Step(3, "report").Warning("depends_on", ErrCodeValidation, `depends on conditional step "publish"`)

	assert.True(t, r.Valid())
	assert.Empty(t, r.FailingSteps())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_Merge(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("retry", ErrCodeValidation, `unknown backoff "random"`)

	other := &ValidationResult{}
	other.AddError("steps", ErrCodeCycleDetected, "workflow contains a dependency cycle through: a, b")
	other.Step(0, "a").Warning("condition_lang", ErrCodeValidation, "condition_lang set without a condition")

	r.Merge(other)
	r.Merge(nil)

	assert.Len(t, r.Errors, 2)
	assert.Len(t, r.Warnings, 1)
	assert.Empty(t, r.FailingSteps(), "workflow-level errors name no step")
}

func TestValidationIssue_String(t *testing.T) {
	step := ValidationIssue{Path: "steps[0].timeout", Step: "fetch", Code: ErrCodeValidation, Message: "invalid timeout"}
	assert.Equal(t, "steps[0].timeout (fetch) VALIDATION_ERROR: invalid timeout", step.String())

	wf := ValidationIssue{Path: "retry", Code: ErrCodeValidation, Message: "bad backoff"}
	assert.Equal(t, "retry VALIDATION_ERROR: bad backoff", wf.String())
}

func TestValidationResult_ToError_SingleStepError(t *testing.T) {
	r := &ValidationResult{}
	r.Step(0, "fetch").Error("action", ErrCodeActionUnavailable, `action "ftp.download" not registered`)

	err := r.ToError()
	require.Error(t, err)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeValidation, se.Code)
	assert.Equal(t, "fetch", se.StepID)
	assert.Equal(t, `action "ftp.download" not registered`, se.Message)
	assert.Equal(t, 1, se.Details["error_count"])
	assert.Equal(t, []string{"fetch"}, se.Details["steps"])
	assert.True(t, IsCode(err, ErrCodeActionUnavailable), "shared issue code is reachable as the cause")
}

func TestValidationResult_ToError_MixedCodes(t *testing.T) {
	r := &ValidationResult{}
	r.Step(0, "fetch").Error("action", ErrCodeActionUnavailable, "unknown action")
	r.Step(1, "check").Error("timeout", ErrCodeValidation, "invalid timeout")
	r.AddWarning("steps[2].retries", ErrCodeValidation, "high retry count")

	err := r.ToError()
	require.Error(t, err)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "validation failed with 2 errors", se.Message)
	assert.Empty(t, se.StepID)
	assert.Nil(t, se.Cause)
	assert.Equal(t, 2, se.Details["error_count"])
	assert.Equal(t, 1, se.Details["warning_count"])
	assert.Equal(t, []string{"fetch", "check"}, se.Details["steps"])
	assert.False(t, IsCode(err, ErrCodeActionUnavailable))
}

func TestValidationResult_ToError_SharedCycleCode(t *testing.T) {
	r := &ValidationResult{}
	r.Step(0, "a").Error("depends_on[0]", ErrCodeCycleDetected, `step "a" depends on itself`)
	r.AddError("steps", ErrCodeCycleDetected, "workflow contains a dependency cycle through: a")

	err := r.ToError()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))
	assert.True(t, IsCode(err, ErrCodeCycleDetected))
}
