package schema

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationSeverity indicates whether an issue blocks a definition from running.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a workflow definition. Step is the
// id of the step the issue belongs to, empty for workflow-level issues.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Step     string             `json:"step,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Step != "" {
		return fmt.Sprintf("%s (%s) %s: %s", i.Path, i.Step, i.Code, i.Message)
	}
	return fmt.Sprintf("%s %s: %s", i.Path, i.Code, i.Message)
}

// StepPath addresses a field of the step at index, e.g. StepPath(1, "depends_on[0]")
// is "steps[1].depends_on[0]". An empty field addresses the step itself.
func StepPath(index int, field string) string {
	if field == "" {
		return fmt.Sprintf("steps[%d]", index)
	}
	return fmt.Sprintf("steps[%d].%s", index, field)
}

// ValidationResult collects the issues found by the load-time checks.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether there are no errors. Warnings never block a run.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends a workflow-level error.
func (r *ValidationResult) AddError(path, code, message string) {
	r.add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

// AddWarning appends a workflow-level warning.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

func (r *ValidationResult) add(issue ValidationIssue) {
	if issue.Severity == SeverityWarning {
		r.Warnings = append(r.Warnings, issue)
		return
	}
	r.Errors = append(r.Errors, issue)
}

// Step returns a recorder for issues of the step at index with the given id.
func (r *ValidationResult) Step(index int, id string) StepIssues {
	return StepIssues{result: r, index: index, id: id}
}

// Merge appends other's issues.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// FailingSteps returns the ids of steps with at least one error, in the order
// they were first reported.
func (r *ValidationResult) FailingSteps() []string {
	var out []string
	for _, issue := range r.Errors {
		if issue.Step != "" && !slices.Contains(out, issue.Step) {
			out = append(out, issue.Step)
		}
	}
	return out
}

// IssuesFor returns every error and warning recorded against step id.
func (r *ValidationResult) IssuesFor(id string) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range slices.Concat(r.Errors, r.Warnings) {
		if issue.Step == id {
			out = append(out, issue)
		}
	}
	return out
}

// ToError returns nil for a valid result. Otherwise it returns a
// VALIDATION_ERROR listing the issues. When every error shares a more specific
// code (ACTION_UNAVAILABLE, CYCLE_DETECTED) that code is the cause, so
// IsCode matches it too.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := first.Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	err := NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
			"steps":         r.FailingSteps(),
		})
	if len(r.Errors) == 1 && first.Step != "" {
		err = err.WithStep(first.Step)
	}
	if code := r.sharedCode(); code != "" && code != ErrCodeValidation {
		lines := make([]string, len(r.Errors))
		for i, issue := range r.Errors {
			lines[i] = issue.Message
		}
		err = err.WithCause(NewError(code, strings.Join(lines, "; ")))
	}
	return err
}

func (r *ValidationResult) sharedCode() string {
	code := r.Errors[0].Code
	for _, issue := range r.Errors[1:] {
		if issue.Code != code {
			return ""
		}
	}
	return code
}

// StepIssues records issues against a single step definition.
type StepIssues struct {
	result *ValidationResult
	index  int
	id     string
}

// Error records an error on field of the step.
func (s StepIssues) Error(field, code, message string) {
	s.result.add(ValidationIssue{
		Path: StepPath(s.index, field), Step: s.id, Code: code, Message: message, Severity: SeverityError,
	})
}

// Warning records a warning on field of the step.
func (s StepIssues) Warning(field, code, message string) {
	s.result.add(ValidationIssue{
		Path: StepPath(s.index, field), Step: s.id, Code: code, Message: message, Severity: SeverityWarning,
	})
}
