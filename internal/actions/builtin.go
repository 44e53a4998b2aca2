package actions

import (
	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/internal/validation"
)

// BuiltinConfig carries the dependencies of the built-in actions.
type BuiltinConfig struct {
	HTTP        HTTPConfig
	Expressions *expressions.Set
	Validator   *validation.JSONSchemaValidator
}

// RegisterBuiltins registers all built-in actions in the given registry.
// Missing expression engines or validator are created on demand.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.Expressions == nil {
		set, err := expressions.NewSet()
		if err != nil {
			return err
		}
		cfg.Expressions = set
	}
	if cfg.Validator == nil {
		v, err := validation.NewJSONSchemaValidator()
		if err != nil {
			return err
		}
		cfg.Validator = v
	}

	all := make([]Action, 0, 16)

	all = append(all, &noopAction{}, &sleepAction{})

	// HTTP actions.
	all = append(all,
		NewHTTPRequestAction(cfg.HTTP),
		NewHTTPGetAction(cfg.HTTP),
		NewHTTPPostAction(cfg.HTTP),
	)

	// Expression actions.
	all = append(all, ExprActions(cfg.Expressions)...)

	// Assert actions.
	all = append(all, AssertActions(cfg.Expressions, cfg.Validator)...)

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
