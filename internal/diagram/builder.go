package diagram

import (
	"fmt"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// Build constructs a DiagramModel from a definition. When report is non-nil
// every node carries the step's final state.
func Build(def *schema.WorkflowDefinition, report *engine.Report) (*DiagramModel, error) {
	var overlay map[string]*StatusOverlay
	if report != nil {
		overlay = make(map[string]*StatusOverlay, len(report.Steps))
		for id, sr := range report.Steps {
			overlay[id] = &StatusOverlay{
				Status:     string(sr.Status),
				DurationMs: sr.Duration.Milliseconds(),
				Attempts:   sr.Attempts,
				Error:      sr.Error,
				Reason:     sr.Reason,
			}
		}
	}
	model, err := build(def, overlay)
	if err != nil {
		return nil, err
	}
	if report != nil {
		model.Status = string(report.Status)
	}
	return model, nil
}

// BuildFromStates is Build with the overlay taken from stored step states.
func BuildFromStates(def *schema.WorkflowDefinition, states []*store.StepState) (*DiagramModel, error) {
	overlay := make(map[string]*StatusOverlay, len(states))
	for _, st := range states {
		overlay[st.StepID] = &StatusOverlay{
			Status:     string(st.Status),
			DurationMs: st.DurationMs,
			Attempts:   st.Attempts,
			Error:      st.Error,
			Reason:     st.Reason,
		}
	}
	return build(def, overlay)
}

// build uses engine.ParseDAG for topology, so a definition the engine would
// reject cannot be drawn either.
func build(def *schema.WorkflowDefinition, overlay map[string]*StatusOverlay) (*DiagramModel, error) {
	dag, err := engine.ParseDAG(def)
	if err != nil {
		return nil, fmt.Errorf("diagram: parse DAG: %w", err)
	}

	byID := make(map[string]*schema.StepDefinition, len(def.Steps))
	for i := range def.Steps {
		byID[def.Steps[i].ID] = &def.Steps[i]
	}

	nodes := make([]*Node, 0, len(dag.Sorted)+2)
	nodes = append(nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, id := range dag.Sorted {
		node := stepToNode(byID[id])
		node.Status = overlay[id]
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	return &DiagramModel{
		Title:  titleFromDef(def),
		Nodes:  nodes,
		Edges:  buildEdges(dag, byID),
		Levels: buildLevels(dag),
	}, nil
}

func stepToNode(step *schema.StepDefinition) *Node {
	kind := NodeKindAction
	switch {
	case step.Condition != "":
		kind = NodeKindConditional
	case step.Parallel:
		kind = NodeKindParallel
	}
	return &Node{
		ID:        step.ID,
		Label:     nodeLabel(step),
		Kind:      kind,
		Action:    step.Action,
		Condition: step.Condition,
		Critical:  step.Critical,
	}
}

// nodeLabel is "id\n(action)"; renderers that need one line use firstLine.
func nodeLabel(step *schema.StepDefinition) string {
	if step.Action != "" {
		return fmt.Sprintf("%s\n(%s)", step.ID, step.Action)
	}
	return step.ID
}

// buildEdges walks the DAG in topological order so output is stable.
// Edges into a conditional step are labelled "when".
func buildEdges(dag *engine.DAG, byID map[string]*schema.StepDefinition) []Edge {
	var edges []Edge

	for _, root := range dag.Roots {
		edges = append(edges, Edge{From: StartID, To: root, Label: edgeLabel(byID[root])})
	}
	for _, id := range dag.Sorted {
		for _, dep := range dag.Edges[id] {
			edges = append(edges, Edge{From: dep, To: id, Label: edgeLabel(byID[id])})
		}
	}
	for _, id := range dag.Sorted {
		if len(dag.Reverse[id]) == 0 {
			edges = append(edges, Edge{From: id, To: EndID})
		}
	}
	return edges
}

func edgeLabel(step *schema.StepDefinition) string {
	if step != nil && step.Condition != "" {
		return "when"
	}
	return ""
}

func buildLevels(dag *engine.DAG) [][]string {
	levels := make([][]string, 0, len(dag.Levels)+2)
	levels = append(levels, []string{StartID})
	levels = append(levels, dag.Levels...)
	levels = append(levels, []string{EndID})
	return levels
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	if name, ok := def.Metadata["name"].(string); ok && name != "" {
		return name
	}
	return "Workflow"
}
