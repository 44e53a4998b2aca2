package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/validation"
	"github.com/rendis/stepwise/pkg/schema"
)

func assertActions(t *testing.T) map[string]Action {
	t.Helper()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	out := make(map[string]Action)
	for _, a := range AssertActions(newExprSet(t), v) {
		out[a.Name()] = a
	}
	return out
}

func TestAssert_Condition(t *testing.T) {
	a := assertActions(t)["assert"]

	out, err := a.Execute(context.Background(), testInput(map[string]any{
		"condition": "size(steps.collect.rows) == 3",
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pass": true}, out)

	out, err = a.Execute(context.Background(), testInput(map[string]any{
		"condition": "params.limit > inputs.factor",
		"lang":      "expr",
		"limit":     50,
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pass": true}, out)

	_, err = a.Execute(context.Background(), testInput(map[string]any{
		"condition": "inputs.factor > 100",
		"message":   "factor too small",
	}))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAssertionFailed))
	assert.Contains(t, err.Error(), "factor too small")

	assert.Error(t, a.Validate(map[string]any{"condition": "1 +"}))
	assert.Error(t, a.Validate(map[string]any{"condition": "true", "lang": "lua"}))
}

func TestAssertEquals(t *testing.T) {
	a := assertActions(t)["assert.equals"]

	_, err := a.Execute(context.Background(), Input{Params: map[string]any{
		"expected": map[string]any{"n": 1},
		"actual":   map[string]any{"n": float64(1)},
	}})
	assert.NoError(t, err, "int and float64 compare equal")

	_, err = a.Execute(context.Background(), Input{Params: map[string]any{"expected": 1, "actual": 2}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeAssertionFailed))

	_, err = a.Execute(context.Background(), Input{Params: map[string]any{"expected": 1}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNonRetryable))
}

func TestAssertContains(t *testing.T) {
	a := assertActions(t)["assert.contains"]

	_, err := a.Execute(context.Background(), Input{Params: map[string]any{"haystack": "hello world", "needle": "world"}})
	assert.NoError(t, err)

	_, err = a.Execute(context.Background(), Input{Params: map[string]any{"haystack": []any{1, 2}, "needle": float64(2)}})
	assert.NoError(t, err)

	_, err = a.Execute(context.Background(), Input{Params: map[string]any{"haystack": []any{1, 2}, "needle": 3}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeAssertionFailed))

	_, err = a.Execute(context.Background(), Input{Params: map[string]any{"haystack": 5, "needle": 3}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNonRetryable))
}

func TestAssertMatches(t *testing.T) {
	a := assertActions(t)["assert.matches"]

	out, err := a.Execute(context.Background(), Input{Params: map[string]any{"value": "order-1234", "pattern": `\d+`}})
	require.NoError(t, err)
	assert.Equal(t, "1234", out.(map[string]any)["matches"])

	_, err = a.Execute(context.Background(), Input{Params: map[string]any{"value": "abc", "pattern": `^\d+$`}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeAssertionFailed))

	assert.Error(t, a.Validate(map[string]any{"value": "x", "pattern": "("}))
}

func TestAssertSchema(t *testing.T) {
	a := assertActions(t)["assert.schema"]
	sch := map[string]any{
		"type":     "object",
		"required": []any{"id"},
	}

	_, err := a.Execute(context.Background(), Input{Params: map[string]any{"data": map[string]any{"id": 1}, "schema": sch}})
	assert.NoError(t, err)

	_, err = a.Execute(context.Background(), Input{Params: map[string]any{"data": map[string]any{}, "schema": sch}})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAssertionFailed))
}
