package conductor

import (
	"fmt"
	"sort"
)

// End is the virtual node name that terminates a workflow. Edges and routers
// may target it; it is never executed.
const End = "__end__"

// Edge configures the transition out of a node. Exactly one of To or Router
// must be set: To for an unconditional transition, Router for a conditional
// one.
type Edge struct {
	From   string
	To     string
	Router Router
}

// Options are used to configure a workflow.
type Options struct {
	Name        string
	Description string
	Nodes       []Node
	Edges       []*Edge
	Start       string

	// FailureNode, if set, receives control whenever a node records
	// workflow-fatal errors into the state. It reports the failure and
	// should route to End.
	FailureNode string
}

// Workflow defines a resumable process as a graph of named nodes connected
// by unconditional and router-driven edges.
type Workflow struct {
	name        string
	description string
	start       string
	failureNode string
	nodes       map[string]Node
	edges       map[string]*Edge
}

// New returns a new Workflow configured with the given options. Every node
// must have exactly one outgoing edge, and every edge target must be a
// declared node or End.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workflow name required")
	}
	if len(opts.Nodes) == 0 {
		return nil, fmt.Errorf("nodes required")
	}

	nodes := make(map[string]Node, len(opts.Nodes))
	for _, node := range opts.Nodes {
		if node.Name() == "" {
			return nil, fmt.Errorf("node name required")
		}
		if node.Name() == End {
			return nil, fmt.Errorf("node name %q is reserved", End)
		}
		if _, exists := nodes[node.Name()]; exists {
			return nil, fmt.Errorf("duplicate node name: %q", node.Name())
		}
		nodes[node.Name()] = node
	}

	edges := make(map[string]*Edge, len(opts.Edges))
	for _, edge := range opts.Edges {
		if _, exists := nodes[edge.From]; !exists {
			return nil, fmt.Errorf("edge from unknown node: %q", edge.From)
		}
		if _, exists := edges[edge.From]; exists {
			return nil, fmt.Errorf("duplicate edge from node: %q", edge.From)
		}
		if edge.Router != nil {
			if edge.To != "" {
				return nil, fmt.Errorf("edge from %q sets both a target and a router", edge.From)
			}
			for _, target := range edge.Router.Targets() {
				if err := validateTarget(nodes, target); err != nil {
					return nil, fmt.Errorf("router %q: %w", edge.Router.Name(), err)
				}
			}
		} else {
			if err := validateTarget(nodes, edge.To); err != nil {
				return nil, fmt.Errorf("edge from %q: %w", edge.From, err)
			}
		}
		edges[edge.From] = edge
	}
	for name := range nodes {
		if _, exists := edges[name]; !exists {
			return nil, fmt.Errorf("node %q has no outgoing edge", name)
		}
	}

	start := opts.Start
	if start == "" {
		start = opts.Nodes[0].Name()
	}
	if _, exists := nodes[start]; !exists {
		return nil, fmt.Errorf("start node not found: %q", start)
	}
	if opts.FailureNode != "" {
		if _, exists := nodes[opts.FailureNode]; !exists {
			return nil, fmt.Errorf("failure node not found: %q", opts.FailureNode)
		}
	}

	return &Workflow{
		name:        opts.Name,
		description: opts.Description,
		start:       start,
		failureNode: opts.FailureNode,
		nodes:       nodes,
		edges:       edges,
	}, nil
}

func validateTarget(nodes map[string]Node, target string) error {
	if target == End {
		return nil
	}
	if _, exists := nodes[target]; !exists {
		return fmt.Errorf("unknown target node: %q", target)
	}
	return nil
}

// Name returns the name of the workflow.
func (w *Workflow) Name() string {
	return w.name
}

// Description returns the workflow description.
func (w *Workflow) Description() string {
	return w.description
}

// Start returns the name of the starting node.
func (w *Workflow) Start() string {
	return w.start
}

// FailureNode returns the failure-reporting node name, or "" if none is
// declared.
func (w *Workflow) FailureNode() string {
	return w.failureNode
}

// Node returns the node with the given name.
func (w *Workflow) Node(name string) (Node, bool) {
	node, exists := w.nodes[name]
	return node, exists
}

// Edge returns the outgoing edge for the given node.
func (w *Workflow) Edge(from string) (*Edge, bool) {
	edge, exists := w.edges[from]
	return edge, exists
}

// NodeNames returns the names of all nodes, sorted.
func (w *Workflow) NodeNames() []string {
	names := make([]string, 0, len(w.nodes))
	for name := range w.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
