package conductor

import (
	"context"
	"time"
)

// Callbacks receives lifecycle events for orchestrator advances and node
// executions.
type Callbacks interface {
	BeforeAdvance(ctx context.Context, event *AdvanceEvent)
	AfterAdvance(ctx context.Context, event *AdvanceEvent)

	BeforeNode(ctx context.Context, event *NodeEvent)
	AfterNode(ctx context.Context, event *NodeEvent)
}

// AdvanceEvent provides context for one advance of a workflow instance.
type AdvanceEvent struct {
	ThreadID     string
	WorkflowName string
	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Error        error
}

// NodeEvent provides context for one node execution.
type NodeEvent struct {
	ThreadID     string
	WorkflowName string
	Node         string
	Patch        Patch
	Suspended    bool
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Error        error
}

// BaseCallbacks provides a default implementation that does nothing. Embed
// it to implement only the events you care about.
type BaseCallbacks struct{}

func (b *BaseCallbacks) BeforeAdvance(ctx context.Context, event *AdvanceEvent) {}
func (b *BaseCallbacks) AfterAdvance(ctx context.Context, event *AdvanceEvent)  {}
func (b *BaseCallbacks) BeforeNode(ctx context.Context, event *NodeEvent)       {}
func (b *BaseCallbacks) AfterNode(ctx context.Context, event *NodeEvent)        {}

// CallbackChain fans events out to multiple callback implementations in
// order.
type CallbackChain struct {
	callbacks []Callbacks
}

// NewCallbackChain creates a new callback chain.
func NewCallbackChain(callbacks ...Callbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add appends a callback to the chain.
func (c *CallbackChain) Add(callback Callbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeAdvance(ctx context.Context, event *AdvanceEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeAdvance(ctx, event)
	}
}

func (c *CallbackChain) AfterAdvance(ctx context.Context, event *AdvanceEvent) {
	for _, callback := range c.callbacks {
		callback.AfterAdvance(ctx, event)
	}
}

func (c *CallbackChain) BeforeNode(ctx context.Context, event *NodeEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeNode(ctx, event)
	}
}

func (c *CallbackChain) AfterNode(ctx context.Context, event *NodeEvent) {
	for _, callback := range c.callbacks {
		callback.AfterNode(ctx, event)
	}
}
