package conductor

import (
	"context"
)

// Checkpointer is durable key-value storage from thread identity to
// serialized workflow state, surviving process restarts. One instance is
// shared across all orchestrator invocations for a workflow family.
//
// Saves are atomic from the perspective of a concurrent reader and enforce
// optimistic versioning: a save whose Version is not exactly one greater
// than the stored version fails with a *VersionConflictError. Callers are
// still expected to serialize calls per thread; the version check exists so
// a violated expectation corrupts nothing.
type Checkpointer interface {

	// SaveCheckpoint durably stores the checkpoint, keyed by its ThreadID.
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint loads the checkpoint for a thread. A missing or
	// unreadable checkpoint returns (nil, nil): the thread starts fresh.
	LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error)

	// DeleteCheckpoint removes checkpoint data for a thread.
	DeleteCheckpoint(ctx context.Context, threadID string) error
}

// checkVersion implements the optimistic concurrency contract shared by the
// stores: a fresh save must carry version 1, a subsequent save exactly
// stored+1.
func checkVersion(threadID string, stored *Checkpoint, incoming *Checkpoint) error {
	var expected int64 = 1
	if stored != nil {
		expected = stored.Version + 1
	}
	if incoming.Version != expected {
		found := int64(0)
		if stored != nil {
			found = stored.Version
		}
		return &VersionConflictError{
			ThreadID: threadID,
			Expected: expected,
			Found:    found,
		}
	}
	return nil
}
