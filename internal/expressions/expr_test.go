package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"inputs": map[string]any{"count": 5, "items": []any{1, 2, 3, 4}},
		"steps":  map[string]any{"fetch": map[string]any{"status": 200}},
	}

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"arithmetic", "inputs.count * 2", 10},
		{"comparison", "steps.fetch.status == 200", true},
		{"filter", "len(filter(inputs.items, # > 2))", 2},
		{"let", "let n = inputs.count; n + 1", 6},
		{"any", "any(inputs.items, # == 4)", true},
		{"nil coalescing", `inputs.missing ?? "default"`, "default"},
		{"ternary", `inputs.count > 3 ? "big" : "small"`, "big"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "1 +", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Evaluate(ctx, "1 + 1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpr_Compile(t *testing.T) {
	e := NewExprEngine()
	require.NoError(t, e.Compile("inputs.count > 1"))
	assert.Error(t, e.Compile("inputs.count >"))
}
