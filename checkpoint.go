package conductor

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is a terminal one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PendingInvocation records the suspend point a thread is paused at: the
// node to re-execute, the request identity that the resume must answer, and
// the invocation payload pending with the external actor.
type PendingInvocation struct {
	RequestID  string          `json:"request_id"`
	Node       string          `json:"node"`
	Invocation *ToolInvocation `json:"invocation"`
}

// Checkpoint is the durable snapshot of one workflow instance: its full
// state plus the graph-position bookkeeping needed to resume. It is the
// sole arbiter of what state a thread is in. The JSON form must round-trip
// exactly and remain readable after a process restart.
type Checkpoint struct {
	ThreadID     string         `json:"thread_id"`
	WorkflowName string         `json:"workflow_name"`
	Status       Status         `json:"status"`
	State        map[string]any `json:"state"`

	// Node is the continuation marker: the node the next advance begins
	// at. Empty means the workflow starts at its start node.
	Node string `json:"node,omitempty"`

	// Pending is set while the thread is suspended awaiting a tool result.
	Pending *PendingInvocation `json:"pending,omitempty"`

	// ConsumedRequestID, ConsumedDigest and LastResponse record the most
	// recently applied resume so an identical retried call can be answered
	// by replay instead of re-running side-effecting nodes.
	ConsumedRequestID string          `json:"consumed_request_id,omitempty"`
	ConsumedDigest    string          `json:"consumed_digest,omitempty"`
	LastResponse      json.RawMessage `json:"last_response,omitempty"`

	// Version is the optimistic concurrency stamp. Stores accept a save
	// only when it is exactly one greater than the stored version.
	Version int64 `json:"version"`

	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time,omitzero"`
	EndTime   time.Time `json:"end_time,omitzero"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Copy returns a deep copy of the checkpoint via a JSON round-trip.
func (c *Checkpoint) Copy() (*Checkpoint, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var copied Checkpoint
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}

// ThreadSummary provides a summary view of one checkpointed thread.
type ThreadSummary struct {
	ThreadID     string    `json:"thread_id"`
	WorkflowName string    `json:"workflow_name"`
	Status       Status    `json:"status"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
	Error        string    `json:"error,omitempty"`
}
