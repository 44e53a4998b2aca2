package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/rendis/stepwise/internal/expressions"
	"github.com/rendis/stepwise/internal/validation"
	"github.com/rendis/stepwise/pkg/schema"
)

// AssertActions returns all assertion-related actions. A failed assertion is an
// ASSERTION_FAILED error, which the executor does not retry.
func AssertActions(set *expressions.Set, validator *validation.JSONSchemaValidator) []Action {
	return []Action{
		&assertAction{exprs: set},
		&assertEqualsAction{},
		&assertContainsAction{},
		&assertMatchesAction{},
		&assertSchemaAction{validator: validator},
	}
}

// normalizeJSON converts Go numeric types to float64 for consistent deep-equal comparison.
// JSON unmarshaling produces float64 for numbers; this normalizes int, int64, json.Number
// so reflect.DeepEqual works across boundaries.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return v
	}
}

func passResult() map[string]any {
	return map[string]any{"pass": true}
}

// --- assert ---

type assertAction struct {
	exprs *expressions.Set
}

func (a *assertAction) Name() string { return "assert" }

func (a *assertAction) Schema() ActionSchema {
	return ActionSchema{Description: "Assert that a CEL (default) or expr condition holds over the step scope"}
}

func (a *assertAction) Validate(input map[string]any) error {
	cond := stringParam(input, "condition", "")
	if cond == "" {
		return schema.NewError(schema.ErrCodeValidation, "assert requires non-empty 'condition' string parameter")
	}
	eng, err := a.exprs.Get(stringParam(input, "lang", ""))
	if err != nil {
		return err
	}
	if c, ok := eng.(expressions.Compiler); ok {
		return c.Compile(cond)
	}
	return nil
}

func (a *assertAction) Execute(ctx context.Context, input Input) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, schema.NonRetryable(err)
	}
	cond := stringParam(input.Params, "condition", "")
	eng, _ := a.exprs.Get(stringParam(input.Params, "lang", ""))

	data, err := scopeData(input)
	if err != nil {
		return nil, err
	}

	ok, err := expressions.EvaluateBool(ctx, eng, cond, data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, schema.NewError(schema.ErrCodeAssertionFailed,
			messageParam(input.Params, fmt.Sprintf("assertion failed: %s", cond))).
			WithDetails(map[string]any{"condition": cond})
	}
	return passResult(), nil
}

// --- assert.equals ---

type assertEqualsAction struct{}

func (a *assertEqualsAction) Name() string { return "assert.equals" }

func (a *assertEqualsAction) Schema() ActionSchema {
	return ActionSchema{Description: "Assert that two values are deeply equal"}
}

func (a *assertEqualsAction) Validate(input map[string]any) error {
	if _, ok := input["expected"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.equals requires 'expected' parameter")
	}
	if _, ok := input["actual"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.equals requires 'actual' parameter")
	}
	return nil
}

func (a *assertEqualsAction) Execute(_ context.Context, input Input) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, schema.NonRetryable(err)
	}
	expected := normalizeJSON(input.Params["expected"])
	actual := normalizeJSON(input.Params["actual"])

	if reflect.DeepEqual(expected, actual) {
		return passResult(), nil
	}

	return nil, schema.NewError(schema.ErrCodeAssertionFailed,
		messageParam(input.Params, "assertion failed: values are not equal")).
		WithDetails(map[string]any{"expected": input.Params["expected"], "actual": input.Params["actual"]})
}

// --- assert.contains ---

type assertContainsAction struct{}

func (a *assertContainsAction) Name() string { return "assert.contains" }

func (a *assertContainsAction) Schema() ActionSchema {
	return ActionSchema{Description: "Assert that a string or array contains a value"}
}

func (a *assertContainsAction) Validate(input map[string]any) error {
	if _, ok := input["haystack"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.contains requires 'haystack' parameter")
	}
	if _, ok := input["needle"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.contains requires 'needle' parameter")
	}
	return nil
}

func (a *assertContainsAction) Execute(_ context.Context, input Input) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, schema.NonRetryable(err)
	}
	haystack := input.Params["haystack"]
	needle := input.Params["needle"]
	msg := messageParam(input.Params, "assertion failed: value not found")

	switch hs := haystack.(type) {
	case string:
		if strings.Contains(hs, fmt.Sprintf("%v", needle)) {
			return passResult(), nil
		}
	case []any:
		normalizedNeedle := normalizeJSON(needle)
		for _, item := range hs {
			if reflect.DeepEqual(normalizeJSON(item), normalizedNeedle) {
				return passResult(), nil
			}
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeNonRetryable,
			"assert.contains: haystack must be string or array, got %T", haystack)
	}
	return nil, schema.NewError(schema.ErrCodeAssertionFailed, msg).
		WithDetails(map[string]any{"haystack": haystack, "needle": needle})
}

// --- assert.matches ---

type assertMatchesAction struct{}

func (a *assertMatchesAction) Name() string { return "assert.matches" }

func (a *assertMatchesAction) Schema() ActionSchema {
	return ActionSchema{Description: "Assert that a string matches a regular expression"}
}

func (a *assertMatchesAction) Validate(input map[string]any) error {
	if _, ok := input["value"].(string); !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.matches requires 'value' string parameter")
	}
	pattern, ok := input["pattern"].(string)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.matches requires 'pattern' string parameter")
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid regex pattern: %s", err)
	}
	return nil
}

func (a *assertMatchesAction) Execute(_ context.Context, input Input) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, schema.NonRetryable(err)
	}
	value, _ := input.Params["value"].(string)
	pattern, _ := input.Params["pattern"].(string)
	re := regexp.MustCompile(pattern)

	if !re.MatchString(value) {
		return nil, schema.NewError(schema.ErrCodeAssertionFailed,
			messageParam(input.Params, "assertion failed: value does not match pattern")).
			WithDetails(map[string]any{"value": value, "pattern": pattern})
	}

	return map[string]any{"pass": true, "matches": re.FindString(value)}, nil
}

// --- assert.schema ---

type assertSchemaAction struct {
	validator *validation.JSONSchemaValidator
}

func (a *assertSchemaAction) Name() string { return "assert.schema" }

func (a *assertSchemaAction) Schema() ActionSchema {
	return ActionSchema{Description: "Assert that data conforms to a JSON Schema"}
}

func (a *assertSchemaAction) Validate(input map[string]any) error {
	if _, ok := input["data"].(map[string]any); !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.schema requires 'data' object parameter")
	}
	if _, ok := input["schema"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.schema requires 'schema' parameter")
	}
	return nil
}

func (a *assertSchemaAction) Execute(_ context.Context, input Input) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, schema.NonRetryable(err)
	}
	data := input.Params["data"].(map[string]any)

	schemaBytes, err := json.Marshal(input.Params["schema"])
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "failed to serialize schema: %s", err)
	}

	if err := a.validator.ValidateInput(data, schemaBytes); err != nil {
		details := map[string]any{"error": err.Error()}
		var se *schema.Error
		if errors.As(err, &se) && se.Details != nil {
			details["violations"] = se.Details["violations"]
		}
		return nil, schema.NewError(schema.ErrCodeAssertionFailed,
			messageParam(input.Params, "assertion failed: data does not match schema")).WithDetails(details)
	}

	return passResult(), nil
}
