package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func actionStep(id string, depends ...string) schema.StepDefinition {
	return schema.StepDefinition{
		ID:        id,
		Action:    "noop",
		DependsOn: depends,
	}
}

func assertError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !schema.IsCode(err, expectedCode) {
		t.Errorf("expected code %s, got %v", expectedCode, err)
	}
}

// indexOf returns the position of each step in the sorted order.
func indexOf(dag *DAG) map[string]int {
	m := make(map[string]int, len(dag.Sorted))
	for i, s := range dag.Sorted {
		m[s] = i
	}
	return m
}

func TestParseDAG_LinearChain(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			actionStep("a"),
			actionStep("b", "a"),
			actionStep("c", "b"),
		},
	}

	dag, err := ParseDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx := indexOf(dag)
	if idx["a"] >= idx["b"] || idx["b"] >= idx["c"] {
		t.Errorf("incorrect topological order: %v", dag.Sorted)
	}
	if len(dag.Roots) != 1 || dag.Roots[0] != "a" {
		t.Errorf("expected roots=[a], got %v", dag.Roots)
	}
	if len(dag.Levels) != 3 {
		t.Errorf("expected 3 levels, got %d", len(dag.Levels))
	}
}

func TestParseDAG_Diamond(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			actionStep("validate"),
			actionStep("collect", "validate"),
			actionStep("evalA", "collect"),
			actionStep("evalB", "collect"),
			actionStep("report", "evalA", "evalB"),
		},
	}

	dag, err := ParseDAG(def)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"validate"}, {"collect"}, {"evalA", "evalB"}, {"report"}}, dag.Levels)
	assert.Equal(t, []string{"validate", "collect", "evalA", "evalB", "report"}, dag.Sorted)
	assert.ElementsMatch(t, []string{"evalA", "evalB"}, dag.Reverse["collect"])
}

func TestParseDAG_RegistrationOrderBreaksTies(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			actionStep("z"),
			actionStep("m"),
			actionStep("a"),
		},
	}

	dag, err := ParseDAG(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "m", "a"}, dag.Sorted)
	assert.Equal(t, []string{"z", "m", "a"}, dag.Roots)
}

func TestParseDAG_Errors(t *testing.T) {
	tests := []struct {
		name  string
		def   *schema.WorkflowDefinition
		code  string
	}{
		{"nil definition", nil, schema.ErrCodeValidation},
		{"no steps", &schema.WorkflowDefinition{}, schema.ErrCodeValidation},
		{"empty id", &schema.WorkflowDefinition{Steps: []schema.StepDefinition{actionStep("")}}, schema.ErrCodeValidation},
		{"duplicate id", &schema.WorkflowDefinition{Steps: []schema.StepDefinition{actionStep("a"), actionStep("a")}}, schema.ErrCodeValidation},
		{"self dependency", &schema.WorkflowDefinition{Steps: []schema.StepDefinition{actionStep("a", "a")}}, schema.ErrCodeCycleDetected},
		{"duplicate dependency", &schema.WorkflowDefinition{Steps: []schema.StepDefinition{actionStep("a"), actionStep("b", "a", "a")}}, schema.ErrCodeValidation},
		{"unknown dependency", &schema.WorkflowDefinition{Steps: []schema.StepDefinition{actionStep("a", "ghost")}}, schema.ErrCodeValidation},
		{"cycle", &schema.WorkflowDefinition{Steps: []schema.StepDefinition{
			actionStep("a", "c"), actionStep("b", "a"), actionStep("c", "b"),
		}}, schema.ErrCodeCycleDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDAG(tt.def)
			assertError(t, err, tt.code)
		})
	}
}

func TestBuildDAG_MissingDependency(t *testing.T) {
	dag := BuildDAG(
		[]string{"a", "b", "c"},
		map[string][]string{"b": {"a", "ghost"}, "c": {"b"}},
	)

	assert.Equal(t, map[string][]string{"b": {"ghost"}}, dag.Missing)
	assert.Equal(t, []string{"a"}, dag.Sorted)
	assert.Equal(t, []string{"b", "c"}, dag.Blocked)
	assert.Empty(t, dag.Cyclic)
}

func TestBuildDAG_CycleMembersAndDownstream(t *testing.T) {
	// root → x ⇄ y → tail
	dag := BuildDAG(
		[]string{"root", "x", "y", "tail"},
		map[string][]string{"x": {"root", "y"}, "y": {"x"}, "tail": {"y"}},
	)

	assert.Equal(t, []string{"root"}, dag.Sorted)
	assert.Equal(t, []string{"x", "y", "tail"}, dag.Blocked)
	assert.Equal(t, []string{"x", "y"}, dag.Cyclic)
	assert.Equal(t, [][]string{{"root"}}, dag.Levels)
}

func TestBuildDAG_IgnoresRepeatedDependency(t *testing.T) {
	dag := BuildDAG([]string{"a", "b"}, map[string][]string{"b": {"a", "a"}})
	assert.Equal(t, []string{"a"}, dag.Edges["b"])
	assert.Equal(t, []string{"b"}, dag.Reverse["a"])
	assert.Empty(t, dag.Blocked)
}

func TestBuildDAG_Empty(t *testing.T) {
	dag := BuildDAG(nil, nil)
	assert.Empty(t, dag.Sorted)
	assert.Nil(t, dag.Levels)
}
