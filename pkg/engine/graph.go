package engine

import (
	"fmt"
	"strings"
)

// GraphBuilder builds the notification graph of a declaration list.
// It validates step IDs and edge targets and rejects cycles through
// immediate edges, which would otherwise recurse without bound.
type GraphBuilder struct {
	// decls maps step IDs to their declarations
	decls map[string]*Declaration

	// order preserves declaration order
	order []string

	// immediate maps step IDs to the targets of their immediate edges
	immediate map[string][]string
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		decls:     make(map[string]*Declaration),
		order:     make([]string, 0),
		immediate: make(map[string][]string),
	}
}

// Graph is the validated notification graph.
type Graph struct {
	// Nodes are the step IDs in declaration order.
	Nodes []string `json:"nodes"`

	// Edges lists every notification edge.
	Edges []GraphEdge `json:"edges"`
}

// GraphEdge is a notification edge between two steps.
type GraphEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Action Action `json:"action"`
	Timing Timing `json:"timing"`
}

// Build validates the declarations and returns their notification graph.
func (b *GraphBuilder) Build(decls []Declaration) (*Graph, error) {
	if err := b.initialize(decls); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	graph := &Graph{
		Nodes: append([]string(nil), b.order...),
		Edges: make([]GraphEdge, 0),
	}
	for _, id := range b.order {
		for _, edge := range b.decls[id].Notifies {
			graph.Edges = append(graph.Edges, GraphEdge{
				From:   id,
				To:     edge.Target,
				Action: edge.Action,
				Timing: edge.Timing,
			})
		}
	}

	return graph, nil
}

// initialize indexes the declarations and validates edges.
func (b *GraphBuilder) initialize(decls []Declaration) error {
	for i := range decls {
		decl := &decls[i]
		if decl.Step == nil {
			return NewError(ErrorKindInvalidPlan, fmt.Sprintf("declaration %d has no step", i), nil)
		}

		id := decl.Step.ID()
		if id == "" {
			return NewError(ErrorKindInvalidPlan, fmt.Sprintf("declaration %d has empty step ID", i), nil)
		}
		if _, exists := b.decls[id]; exists {
			return NewError(ErrorKindInvalidPlan, fmt.Sprintf("duplicate step ID: %s", id), nil)
		}

		b.decls[id] = decl
		b.order = append(b.order, id)
	}

	for _, id := range b.order {
		for _, edge := range b.decls[id].Notifies {
			if _, exists := b.decls[edge.Target]; !exists {
				return NewError(ErrorKindInvalidPlan,
					fmt.Sprintf("step %s notifies undeclared step %s", id, edge.Target), nil).
					WithStep(id)
			}
			switch edge.Timing {
			case TimingImmediate:
				b.immediate[id] = append(b.immediate[id], edge.Target)
			case TimingDelayed:
			default:
				return NewError(ErrorKindInvalidPlan,
					fmt.Sprintf("step %s has notification with unknown timing %q", id, edge.Timing), nil).
					WithStep(id)
			}
		}
	}

	return nil
}

// detectCycles uses depth-first search over immediate edges.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.order {
		if !visited[id] {
			if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
				return NewError(ErrorKindInvalidPlan,
					fmt.Sprintf("immediate notification cycle: %s", strings.Join(cycle, " -> ")), nil)
			}
		}
	}

	return nil
}

func (b *GraphBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, target := range b.immediate[nodeID] {
		if !visited[target] {
			if cycle := b.detectCyclesUtil(target, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[target] {
			for i, id := range path {
				if id == target {
					return append(append([]string(nil), path[i:]...), target)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Convergence {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for i, id := range g.Nodes {
		sb.WriteString(fmt.Sprintf("  %q [label=\"%d. %s\"];\n", id, i+1, id))
	}
	sb.WriteString("\n")

	// Declaration order as invisible chain so rendering follows the sequence.
	for i := 1; i < len(g.Nodes); i++ {
		sb.WriteString(fmt.Sprintf("  %q -> %q [style=invis];\n", g.Nodes[i-1], g.Nodes[i]))
	}

	for _, edge := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [label=%q, %s];\n",
			edge.From, edge.To, string(edge.Action), edgeStyle(edge.Timing)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func edgeStyle(timing Timing) string {
	switch timing {
	case TimingImmediate:
		return "style=solid, color=red"
	default:
		return "style=dashed, color=blue"
	}
}
