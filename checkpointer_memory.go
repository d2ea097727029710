package conductor

import (
	"context"
	"sync"
)

// MemoryCheckpointer keeps checkpoints in process memory. Useful for tests
// and for callers providing their own durability; it enforces the same
// versioning contract as the durable stores.
type MemoryCheckpointer struct {
	mutex       sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{checkpoints: map[string]*Checkpoint{}}
}

func (c *MemoryCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	if checkpoint.ThreadID == "" {
		return NewProgrammingError("checkpoint has no thread id")
	}
	copied, err := checkpoint.Copy()
	if err != nil {
		return &PersistenceError{Op: "save", ThreadID: checkpoint.ThreadID, Wrapped: err}
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := checkVersion(checkpoint.ThreadID, c.checkpoints[checkpoint.ThreadID], checkpoint); err != nil {
		return err
	}
	c.checkpoints[checkpoint.ThreadID] = copied
	return nil
}

func (c *MemoryCheckpointer) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	c.mutex.RLock()
	checkpoint, exists := c.checkpoints[threadID]
	c.mutex.RUnlock()
	if !exists {
		return nil, nil
	}
	copied, err := checkpoint.Copy()
	if err != nil {
		return nil, &PersistenceError{Op: "load", ThreadID: threadID, Wrapped: err}
	}
	return copied, nil
}

func (c *MemoryCheckpointer) DeleteCheckpoint(ctx context.Context, threadID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.checkpoints, threadID)
	return nil
}

// NullCheckpointer discards all checkpoints. Every call starts fresh.
type NullCheckpointer struct{}

// NewNullCheckpointer creates a checkpointer that persists nothing.
func NewNullCheckpointer() *NullCheckpointer {
	return &NullCheckpointer{}
}

func (c *NullCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	return nil
}

func (c *NullCheckpointer) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	return nil, nil
}

func (c *NullCheckpointer) DeleteCheckpoint(ctx context.Context, threadID string) error {
	return nil
}
