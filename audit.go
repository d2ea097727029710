package conductor

import (
	"context"
	"time"
)

// AuditEntry records one node execution within a thread.
type AuditEntry struct {
	ThreadID     string         `json:"thread_id"`
	WorkflowName string         `json:"workflow_name"`
	Node         string         `json:"node"`
	Patch        map[string]any `json:"patch,omitempty"`
	Suspended    bool           `json:"suspended,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	Duration     float64        `json:"duration"`
}

// AuditLogger records the node-by-node history of workflow threads.
type AuditLogger interface {

	// LogNode records a completed (or suspended, or failed) node execution.
	LogNode(ctx context.Context, entry *AuditEntry) error

	// NodeHistory retrieves the audit trail for a thread.
	NodeHistory(ctx context.Context, threadID string) ([]*AuditEntry, error)
}

// NullAuditLogger discards all entries.
type NullAuditLogger struct{}

// NewNullAuditLogger creates an audit logger that records nothing.
func NewNullAuditLogger() *NullAuditLogger {
	return &NullAuditLogger{}
}

func (l *NullAuditLogger) LogNode(ctx context.Context, entry *AuditEntry) error {
	return nil
}

func (l *NullAuditLogger) NodeHistory(ctx context.Context, threadID string) ([]*AuditEntry, error) {
	return nil, nil
}
