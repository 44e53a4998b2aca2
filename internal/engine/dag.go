package engine

import (
	"slices"

	"github.com/rendis/stepwise/pkg/schema"
)

// DAG is the dependency graph of a set of steps.
// Built either strictly from a WorkflowDefinition (ParseDAG) or tolerantly from
// registered steps (BuildDAG), where unknown dependencies and cycles are
// recorded rather than rejected.
type DAG struct {
	Order   []string            // registration order
	Edges   map[string][]string // step → dependencies (depends_on)
	Reverse map[string][]string // step → dependents (who depends on me)
	Sorted  []string            // topological order of the sortable steps
	Roots   []string            // steps with no dependencies
	Levels  [][]string          // parallel execution levels of the sortable steps
	Missing map[string][]string // step → dependencies that are not registered
	Blocked []string            // steps that can never be ordered (missing deps, cycles, or downstream of either)
	Cyclic  []string            // blocked steps that lie on a dependency cycle
}

// BuildDAG analyses steps given in registration order with their dependencies.
// It never fails: problems are reported through Missing, Blocked and Cyclic.
func BuildDAG(order []string, deps map[string][]string) *DAG {
	dag := &DAG{
		Order:   slices.Clone(order),
		Edges:   make(map[string][]string, len(order)),
		Reverse: make(map[string][]string, len(order)),
		Missing: make(map[string][]string),
	}

	known := make(map[string]bool, len(order))
	for _, id := range order {
		known[id] = true
	}

	for _, id := range order {
		seen := make(map[string]bool, len(deps[id]))
		for _, dep := range deps[id] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			dag.Edges[id] = append(dag.Edges[id], dep)
			if !known[dep] {
				dag.Missing[id] = append(dag.Missing[id], dep)
				continue
			}
			dag.Reverse[dep] = append(dag.Reverse[dep], id)
		}
	}

	// Kahn's algorithm. Missing dependencies are never satisfied, so their
	// dependents keep a positive in-degree and end up blocked.
	inDegree := make(map[string]int, len(order))
	queue := make([]string, 0)
	for _, id := range order {
		inDegree[id] = len(dag.Edges[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
			dag.Roots = append(dag.Roots, id)
		}
	}

	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}

	sorted := make([]string, 0, len(order))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := slices.Clone(dag.Reverse[node])
		slices.SortFunc(dependents, func(a, b string) int { return rank[a] - rank[b] })
		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	dag.Sorted = sorted

	if len(sorted) != len(order) {
		placed := make(map[string]bool, len(sorted))
		for _, id := range sorted {
			placed[id] = true
		}
		for _, id := range order {
			if placed[id] {
				continue
			}
			dag.Blocked = append(dag.Blocked, id)
			if dag.onCycle(id) {
				dag.Cyclic = append(dag.Cyclic, id)
			}
		}
	}

	dag.Levels = computeLevels(dag)
	return dag
}

// ParseDAG builds the graph of a WorkflowDefinition and rejects anything the
// engine could not run to completion: empty or duplicate IDs, self or unknown
// dependencies, and cycles.
func ParseDAG(def *schema.WorkflowDefinition) (*DAG, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if len(def.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no steps")
	}

	order := make([]string, 0, len(def.Steps))
	deps := make(map[string][]string, len(def.Steps))
	for i, step := range def.Steps {
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step at index %d has empty ID", i)
		}
		if _, exists := deps[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate step ID: %s", step.ID)
		}
		seen := make(map[string]bool, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "step %s depends on itself", step.ID)
			}
			if seen[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has duplicate dependency: %s", step.ID, dep)
			}
			seen[dep] = true
		}
		order = append(order, step.ID)
		deps[step.ID] = append([]string{}, step.DependsOn...)
	}

	dag := BuildDAG(order, deps)
	for _, id := range order {
		if missing := dag.Missing[id]; len(missing) > 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s depends on non-existent step: %s", id, missing[0])
		}
	}
	if len(dag.Blocked) > 0 {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle").
			WithDetails(map[string]any{"steps": dag.Cyclic})
	}
	return dag, nil
}

// onCycle reports whether id can reach itself through its dependencies.
func (d *DAG) onCycle(id string) bool {
	visited := make(map[string]bool)
	stack := slices.Clone(d.Edges[id])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == id {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, d.Edges[n]...)
	}
	return false
}

// computeLevels groups sortable steps into parallel execution levels.
// Steps at the same level have all dependencies satisfied by previous levels.
func computeLevels(dag *DAG) [][]string {
	if len(dag.Sorted) == 0 {
		return nil
	}
	depth := make(map[string]int, len(dag.Sorted))
	maxLevel := 0
	for _, id := range dag.Sorted {
		d := 0
		for _, dep := range dag.Edges[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		maxLevel = max(maxLevel, d)
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}
