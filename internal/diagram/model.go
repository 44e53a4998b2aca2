package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindAction      NodeKind = "action"
	NodeKindConditional NodeKind = "conditional"
	NodeKindParallel    NodeKind = "parallel"
	NodeKindStart       NodeKind = "start"
	NodeKindEnd         NodeKind = "end"
)

// Virtual node IDs.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Status string // workflow status when built from a report
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a step, or one of the virtual start/end nodes.
type Node struct {
	ID        string
	Label     string
	Kind      NodeKind
	Action    string
	Condition string
	Critical  bool
	Status    *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	DurationMs int64
	Attempts   int
	Error      string
	Reason     string
}

// Edge is a dependency, drawn from the dependency to the dependent.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
