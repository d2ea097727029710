package conductor

import (
	"context"
)

// Node represents one step in a workflow. A node reads the full state and
// returns only the fields it changed as a Patch. Side effects are permitted
// but must be safe under at-least-once re-invocation: a node is re-executed
// from its start after a resume, so effectful work should be guarded by a
// state flag recorded in an earlier patch.
type Node interface {

	// Name returns the name of the node within its workflow.
	Name() string

	// Execute runs the node against the current state. The NodeContext
	// provides the suspend primitive, the thread identity and a logger.
	Execute(ctx context.Context, nc *NodeContext, state *State) (Patch, error)
}

// NodeFunc is a function that can be used as a Node.
type NodeFunc struct {
	name string
	fn   func(ctx context.Context, nc *NodeContext, state *State) (Patch, error)
}

// NewNodeFunc creates a new NodeFunc.
func NewNodeFunc(name string, fn func(ctx context.Context, nc *NodeContext, state *State) (Patch, error)) *NodeFunc {
	return &NodeFunc{name: name, fn: fn}
}

func (n *NodeFunc) Name() string {
	return n.name
}

func (n *NodeFunc) Execute(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
	return n.fn(ctx, nc, state)
}

// Router is a conditional edge: a pure function from state to the name of
// the next node. Routers must be total (return a declared target for every
// observable state) and deterministic given the same state. A router that
// returns a name outside its declared targets is a programming error.
type Router interface {

	// Name returns the name of the router.
	Name() string

	// Targets returns the node names this router may route to. End is a
	// valid target.
	Targets() []string

	// Route returns the name of the next node for the given state.
	Route(state *State) (string, error)
}

// RouterFunc is a function that can be used as a Router.
type RouterFunc struct {
	name    string
	targets []string
	fn      func(state *State) (string, error)
}

// NewRouterFunc creates a new RouterFunc with its declared targets.
func NewRouterFunc(name string, targets []string, fn func(state *State) (string, error)) *RouterFunc {
	return &RouterFunc{name: name, targets: targets, fn: fn}
}

func (r *RouterFunc) Name() string {
	return r.name
}

func (r *RouterFunc) Targets() []string {
	return r.targets
}

func (r *RouterFunc) Route(state *State) (string, error) {
	return r.fn(state)
}
