package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func testScope() Scope {
	return Scope{
		Steps: map[string]any{
			"fetch": map[string]any{
				"status": 200,
				"body":   map[string]any{"items": []any{"a", "b"}, "url": "https://example.com"},
			},
			"count": 3,
		},
		Inputs:   map[string]any{"region": "eu", "limits.max": 10},
		Workflow: map[string]any{"run_id": "run-1"},
	}
}

func TestInterpolator_WholeValueKeepsType(t *testing.T) {
	interp := NewInterpolator()

	out, err := interp.Resolve(map[string]any{
		"status": "${{steps.fetch.status}}",
		"items":  "${{ steps.fetch.body.items }}",
		"count":  "${{steps.count}}",
		"max":    "${{inputs.limits.max}}",
	}, testScope())
	require.NoError(t, err)

	assert.Equal(t, 200, out["status"])
	assert.Equal(t, []any{"a", "b"}, out["items"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, 10, out["max"], "keys containing dots resolve directly")
}

func TestInterpolator_EmbeddedReferencesStringify(t *testing.T) {
	interp := NewInterpolator()

	out, err := interp.Resolve(map[string]any{
		"msg": "run ${{workflow.run_id}} in ${{inputs.region}} got ${{steps.fetch.status}}",
		"nested": map[string]any{
			"list": []any{"first=${{steps.fetch.body.items.0}}", 42},
		},
	}, testScope())
	require.NoError(t, err)

	assert.Equal(t, "run run-1 in eu got 200", out["msg"])
	assert.Equal(t, map[string]any{"list": []any{"first=a", 42}}, out["nested"])
}

func TestInterpolator_DoesNotMutateInput(t *testing.T) {
	params := map[string]any{"a": "${{inputs.region}}"}
	_, err := NewInterpolator().Resolve(params, testScope())
	require.NoError(t, err)
	assert.Equal(t, "${{inputs.region}}", params["a"])
}

func TestInterpolator_Errors(t *testing.T) {
	interp := NewInterpolator()

	tests := []struct {
		name  string
		input string
		msg   string
	}{
		{"unknown namespace", "${{secrets.key}}", "unknown namespace"},
		{"missing step", "${{steps.nope.x}}", "has no result"},
		{"missing field", "${{steps.fetch.body.nope}}", "not found"},
		{"index out of range", "${{steps.fetch.body.items.5}}", "out of range"},
		{"non-object", "${{steps.count.x}}", "non-object"},
		{"empty", "x ${{ }}", "empty variable reference"},
		{"unclosed", "x ${{inputs.region", "unclosed"},
		{"nested", "${{ ${{inputs.region}} }}", "nested interpolation"},
		{"bare namespace", "${{inputs}}", "expected inputs.<name>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := interp.ResolveString(tt.input, testScope())
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeInterpolation))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestHasInterpolation(t *testing.T) {
	assert.True(t, HasInterpolation(map[string]any{"a": []any{"${{inputs.x}}"}}))
	assert.False(t, HasInterpolation(map[string]any{"a": []any{"plain", 1}}))
}

func TestExtractStepRefs(t *testing.T) {
	refs := ExtractStepRefs(map[string]any{
		"a": "${{steps.fetch.body}} and ${{ steps.parse }}",
		"b": []any{"${{steps.fetch.status}}", "${{inputs.x}}"},
	})
	assert.Equal(t, []string{"fetch", "parse"}, refs)
}
