package actions

import (
	"context"

	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/pkg/schema"
)

// ExprActions returns the expression evaluation actions: expr.eval and jq.
func ExprActions(set *expressions.Set) []Action {
	return []Action{
		&exprEvalAction{engine: set.Expr},
		&jqAction{engine: set.JQ},
	}
}

// scopeData builds the evaluation data for expression actions: the step scope
// plus the action params under "params".
func scopeData(input Input) (map[string]any, error) {
	data, err := input.Scope.Data()
	if err != nil {
		return nil, err
	}
	params, err := expressions.Normalize(input.Params)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "params: %s", err.Error()).WithCause(err)
	}
	if params == nil {
		params = map[string]any{}
	}
	data["params"] = params
	return data, nil
}

// --- expr.eval ---

type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr.eval" }

func (a *exprEvalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate an Expr expression against the step scope; the value becomes the step result",
	}
}

func (a *exprEvalAction) Validate(input map[string]any) error {
	expr, ok := input["expression"].(string)
	if !ok || expr == "" {
		return schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'expression' string parameter")
	}
	return nil
}

func (a *exprEvalAction) Execute(ctx context.Context, input Input) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, schema.NonRetryable(err)
	}
	expression, _ := input.Params["expression"].(string)

	data, err := scopeData(input)
	if err != nil {
		return nil, err
	}
	if explicit, ok := input.Params["data"]; ok {
		data["data"] = explicit
	}

	return a.engine.Evaluate(ctx, expression, data)
}

// --- jq ---

type jqAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqAction) Name() string { return "jq" }

func (a *jqAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Transform data with a jq query. Runs over 'input' when given, otherwise over {steps, inputs, workflow, params}",
	}
}

func (a *jqAction) Validate(input map[string]any) error {
	query, ok := input["query"].(string)
	if !ok || query == "" {
		return schema.NewError(schema.ErrCodeValidation, "jq requires non-empty 'query' string parameter")
	}
	return a.engine.Compile(query)
}

func (a *jqAction) Execute(ctx context.Context, input Input) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, schema.NonRetryable(err)
	}
	query, _ := input.Params["query"].(string)

	if explicit, ok := input.Params["input"]; ok {
		return a.engine.EvaluateValue(ctx, query, explicit)
	}

	data, err := scopeData(input)
	if err != nil {
		return nil, err
	}
	return a.engine.Evaluate(ctx, query, data)
}
