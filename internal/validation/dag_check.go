package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/pkg/schema"
)

// validateDAG performs graph analysis on the steps: cycle detection, and a
// warning for every dependency on a conditional step, since a false condition
// skips the dependent as well.
func validateDAG(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	order := make([]string, 0, len(def.Steps))
	deps := make(map[string][]string, len(def.Steps))
	conditional := make(map[string]bool)
	for _, s := range def.Steps {
		order = append(order, s.ID)
		deps[s.ID] = s.DependsOn
		if s.Condition != "" {
			conditional[s.ID] = true
		}
	}

	dag := engine.BuildDAG(order, deps)
	if len(dag.Cyclic) > 0 {
		result.AddError("steps", schema.ErrCodeCycleDetected,
			fmt.Sprintf("workflow contains a dependency cycle through: %s", strings.Join(dag.Cyclic, ", ")))
		return result
	}

	for i, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if conditional[dep] {
				result.Step(i, s.ID).Warning("depends_on", schema.ErrCodeValidation,
					fmt.Sprintf("depends on conditional step %q; %q is skipped when that condition is false", dep, s.ID))
			}
		}
	}

	return result
}
