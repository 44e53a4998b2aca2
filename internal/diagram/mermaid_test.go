package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

func TestRenderMermaidLinear(t *testing.T) {
	model, err := Build(linearWorkflow(), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% ETL Pipeline")
	assert.Contains(t, out, `__start__(("Start"))`)
	assert.Contains(t, out, `fetch["fetch"]`)
	assert.Contains(t, out, "fetch --> transform")
	assert.Contains(t, out, "store --> __end__")
	assert.Contains(t, out, "class store critical")
}

func TestRenderMermaidShapes(t *testing.T) {
	model, err := Build(conditionWorkflow(), nil)
	require.NoError(t, err)
	out := RenderMermaid(model)
	assert.Contains(t, out, `deploy{"deploy"}`)
	assert.Contains(t, out, "check -->|when| deploy")

	model, err = Build(parallelWorkflow(), nil)
	require.NoError(t, err)
	out = RenderMermaid(model)
	assert.Contains(t, out, `evalA[["evalA"]]`)
	assert.Contains(t, out, `evalB[["evalB"]]`)
}

func TestRenderMermaidStatusClasses(t *testing.T) {
	states := []*store.StepState{
		{StepID: "fetch", Status: schema.StepStatusCompleted},
		{StepID: "transform", Status: schema.StepStatusFailed, Attempts: 3},
		{StepID: "store", Status: schema.StepStatusSkipped},
	}
	model, err := BuildFromStates(linearWorkflow(), states)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, "class fetch completed")
	assert.Contains(t, out, "class transform failed")
	assert.Contains(t, out, "class store skipped")
	assert.Contains(t, out, `transform["transform x3"]`)
	assert.Contains(t, out, "classDef skipped")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "fan_out_step_1", mermaidSafeID("fan-out.step 1"))
}
