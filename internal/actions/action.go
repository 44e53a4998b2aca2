package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/stepwise/internal/expressions"
)

// Action is an executable unit of work bound to a workflow step.
// Its return value becomes the step's result.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input Input) (any, error)
	Validate(params map[string]any) error
}

// ActionRegistry manages the lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	List() []ActionInfo
}

// ActionSchema describes the input contract of an action.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Input is the data provided to an action at execution time.
// Params are already interpolated.
type Input struct {
	Params map[string]any    `json:"params"`
	Scope  expressions.Scope `json:"-"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Family      string `json:"family"`
	Description string `json:"description,omitempty"`
}
