package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v.workflowSchema)
}

func TestValidateDefinition_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(nil)
	require.Error(t, err)

	var se *schema.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeValidation, se.Code)
	assert.Contains(t, se.Message, "nil")
}

func TestValidateDefinition_FullValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name:        "report",
		Description: "nightly report",
		Inputs:      map[string]any{"region": "eu"},
		Retry:       &schema.RetryPolicy{Backoff: schema.BackoffExponential, Delay: "500ms", MaxDelay: "1m30s"},
		MaxParallel: 4,
		Steps: []schema.StepDefinition{
			{ID: "fetch", Action: "http.get", Params: map[string]any{"url": "https://example.com"}, Timeout: "30s", Retries: 2},
			{ID: "check", Action: "assert", DependsOn: []string{"fetch"}, Condition: "steps.fetch.status_code == 200",
				ConditionLang: "cel", Critical: true, Parallel: true},
		},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_StructuralErrors(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		def  *schema.WorkflowDefinition
	}{
		{"missing name", &schema.WorkflowDefinition{Steps: []schema.StepDefinition{{ID: "a", Action: "noop"}}}},
		{"no steps", &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{}}},
		{"empty action", &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{{ID: "a"}}}},
		{"bad timeout", &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{{ID: "a", Action: "noop", Timeout: "soon"}}}},
		{"negative retries", &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{{ID: "a", Action: "noop", Retries: -1}}}},
		{"bad condition lang", &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{{ID: "a", Action: "noop", ConditionLang: "lua"}}}},
		{"bad backoff", &schema.WorkflowDefinition{Name: "w", Retry: &schema.RetryPolicy{Backoff: "random"}, Steps: []schema.StepDefinition{{ID: "a", Action: "noop"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDefinition(tt.def)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestValidateDefinition_DuplicateStepID(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(&schema.WorkflowDefinition{
		Name:  "w",
		Steps: []schema.StepDefinition{{ID: "a", Action: "noop"}, {ID: "a", Action: "noop"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate step id "a"`)
}

func TestValidateInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{"type":"object","required":["rows"],"properties":{"rows":{"type":"integer","minimum":1}}}`)

	require.NoError(t, v.ValidateInput(map[string]any{"rows": 3}, inputSchema))

	err = v.ValidateInput(map[string]any{"rows": 0}, inputSchema)
	require.Error(t, err)
	var se *schema.Error
	require.ErrorAs(t, err, &se)
	assert.NotEmpty(t, se.Details["violations"])

	assert.NoError(t, v.ValidateInput(map[string]any{}, nil), "no schema means no validation")
	assert.Error(t, v.ValidateInput(nil, inputSchema))
	assert.Error(t, v.ValidateInput(map[string]any{}, []byte(`{not json`)))
}

func TestValidateInput_CachesCompiledSchemas(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	inputSchema := []byte(`{"type":"object"}`)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateInput(map[string]any{"a": 1}, inputSchema))
		}()
	}
	wg.Wait()

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
