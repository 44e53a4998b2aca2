package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQ_Evaluate(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"inputs": map[string]any{"items": []any{1, 2, 3}, "name": "report"},
	}

	out, err := e.Evaluate(context.Background(), ".inputs.name", data)
	require.NoError(t, err)
	assert.Equal(t, "report", out)

	out, err = e.Evaluate(context.Background(), ".inputs.items | map(. * 2)", data)
	require.NoError(t, err)
	assert.Equal(t, []any{2, 4, 6}, out)

	out, err = e.Evaluate(context.Background(), ".inputs.items[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, out, "multiple outputs are collected")

	out, err = e.Evaluate(context.Background(), "empty", data)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_NormalizesInput(t *testing.T) {
	e := NewGoJQEngine()

	// int64 is rejected by gojq unless normalized.
	out, err := e.Evaluate(context.Background(), ".n + 1", map[string]any{"n": int64(41)})
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	type row struct {
		Name string `json:"name"`
	}
	out, err = e.EvaluateValue(context.Background(), ".name", row{Name: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", out)
}

func TestGoJQ_EvaluateAll(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.EvaluateAll(context.Background(), ".a", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, []any{1}, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), ".a |", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `error("boom")`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestGoJQ_NoEnvironmentAccess(t *testing.T) {
	t.Setenv("STEPWISE_SECRET", "hidden")
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "$ENV.STEPWISE_SECRET", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
