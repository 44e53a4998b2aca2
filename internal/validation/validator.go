package validation

import "github.com/rendis/stepwise/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for structure and input validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ActionLookup reports whether an action name is registered.
// Implemented by actions.Registry.
type ActionLookup interface {
	Has(name string) bool
}

// ActionSuggester is optionally implemented by an ActionLookup to name
// registered alternatives for an unknown action.
type ActionSuggester interface {
	Similar(name string) []string
}
