package validation

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/pkg/schema"
)

// maxRetriesWarning is the retry count above which a warning is emitted.
const maxRetriesWarning = 10

// validateSemantic performs semantic analysis on the workflow definition.
// Checks: action names registered, depends_on refs valid, durations parse,
// conditions compile, param references point at upstream steps.
// lookup and exprs may be nil to skip the corresponding checks.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup, exprs *expressions.Set) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]bool, len(def.Steps))
	deps := make(map[string][]string, len(def.Steps))
	for _, s := range def.Steps {
		stepIDs[s.ID] = true
		deps[s.ID] = s.DependsOn
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		validateStepSemantic(step, result.Step(i, step.ID), stepIDs, deps, lookup, exprs)
	}

	if def.Retry != nil {
		if _, err := engine.ParseBackoff(def.Retry); err != nil {
			result.AddError("retry", schema.ErrCodeValidation, errMessage(err))
		}
	}

	return result
}

// validateStepSemantic checks a single step.
func validateStepSemantic(step *schema.StepDefinition, issues schema.StepIssues, stepIDs map[string]bool,
	deps map[string][]string, lookup ActionLookup, exprs *expressions.Set) {
	// Action existence.
	if step.Action != "" && lookup != nil && !lookup.Has(step.Action) {
		msg := fmt.Sprintf("action %q not registered", step.Action)
		if s, ok := lookup.(ActionSuggester); ok {
			if similar := s.Similar(step.Action); len(similar) > 0 {
				msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(similar, ", "))
			}
		}
		issues.Error("action", schema.ErrCodeActionUnavailable, msg)
	}

	// depends_on references.
	seen := make(map[string]bool, len(step.DependsOn))
	for j, dep := range step.DependsOn {
		field := fmt.Sprintf("depends_on[%d]", j)
		switch {
		case dep == step.ID:
			issues.Error(field, schema.ErrCodeCycleDetected,
				fmt.Sprintf("step %q depends on itself", step.ID))
		case seen[dep]:
			issues.Error(field, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate dependency %q", dep))
		case !stepIDs[dep]:
			issues.Error(field, schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", dep))
		}
		seen[dep] = true
	}

	if step.Timeout != "" {
		d, err := time.ParseDuration(step.Timeout)
		if err != nil || d <= 0 {
			issues.Error("timeout", schema.ErrCodeValidation,
				fmt.Sprintf("invalid timeout %q: must be a positive duration", step.Timeout))
		}
	}

	if step.Retries < 0 {
		issues.Error("retries", schema.ErrCodeValidation, "retries must not be negative")
	} else if step.Retries > maxRetriesWarning {
		issues.Warning("retries", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", step.Retries))
	}

	validateCondition(step, issues, exprs)

	// Param references must point at steps that complete before this one.
	ancestors := upstream(step.ID, deps)
	for _, ref := range expressions.ExtractStepRefs(step.Params) {
		switch {
		case !stepIDs[ref]:
			issues.Error("params", schema.ErrCodeValidation,
				fmt.Sprintf("params reference non-existent step %q", ref))
		case !ancestors[ref]:
			issues.Warning("params", schema.ErrCodeValidation,
				fmt.Sprintf("params reference step %q which is not upstream; its result may be missing", ref))
		}
	}
}

func validateCondition(step *schema.StepDefinition, issues schema.StepIssues, exprs *expressions.Set) {
	lang := step.ConditionLang
	if lang != "" && lang != schema.ConditionLangCEL && lang != schema.ConditionLangExpr {
		issues.Error("condition_lang", schema.ErrCodeValidation,
			fmt.Sprintf("unknown condition language %q", lang))
		return
	}
	if step.Condition == "" {
		if lang != "" {
			issues.Warning("condition_lang", schema.ErrCodeValidation,
				"condition_lang set without a condition")
		}
		return
	}
	if exprs == nil {
		return
	}

	eng, err := exprs.Get(lang)
	if err != nil {
		issues.Error("condition_lang", schema.ErrCodeValidation, errMessage(err))
		return
	}
	if c, ok := eng.(expressions.Compiler); ok {
		if err := c.Compile(step.Condition); err != nil {
			issues.Error("condition", schema.ErrCodeValidation, errMessage(err))
		}
	}
}

// upstream returns every step reachable through id's dependencies.
func upstream(id string, deps map[string][]string) map[string]bool {
	out := make(map[string]bool)
	stack := slices.Clone(deps[id])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[n] || n == id {
			continue
		}
		out[n] = true
		stack = append(stack, deps[n]...)
	}
	return out
}

func errMessage(err error) string {
	if se, ok := err.(*schema.Error); ok {
		return se.Message
	}
	return err.Error()
}
