package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileCheckpointer persists one checkpoint file per thread identity. Writes
// go to a temporary file in the same directory followed by a rename, so a
// crash mid-write never leaves a corrupt checkpoint visible to a reader.
// Missing or corrupt files are treated as "start fresh" and logged at
// warning level, never as fatal errors.
type FileCheckpointer struct {
	dataDir string
	logger  *slog.Logger
}

// FileCheckpointerOption configures a FileCheckpointer.
type FileCheckpointerOption func(*FileCheckpointer)

// WithCheckpointerLogger sets the logger used for corruption warnings.
func WithCheckpointerLogger(logger *slog.Logger) FileCheckpointerOption {
	return func(c *FileCheckpointer) {
		c.logger = logger
	}
}

// NewFileCheckpointer creates a file-based checkpointer rooted at dataDir.
func NewFileCheckpointer(dataDir string, opts ...FileCheckpointerOption) (*FileCheckpointer, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".conductor", "threads")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	c := &FileCheckpointer{
		dataDir: dataDir,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SaveCheckpoint atomically writes the checkpoint for its thread.
func (c *FileCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	threadID := checkpoint.ThreadID
	if threadID == "" {
		return NewProgrammingError("checkpoint has no thread id")
	}

	stored, err := c.LoadCheckpoint(ctx, threadID)
	if err != nil {
		return err
	}
	if err := checkVersion(threadID, stored, checkpoint); err != nil {
		return err
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", ThreadID: threadID,
			Wrapped: fmt.Errorf("failed to marshal checkpoint: %w", err)}
	}

	tmp, err := os.CreateTemp(c.dataDir, "."+sanitizeThreadID(threadID)+"-*.tmp")
	if err != nil {
		return &PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	if err := os.Rename(tmpPath, c.checkpointPath(threadID)); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	return nil
}

// LoadCheckpoint reads the checkpoint for a thread. Missing or corrupt
// files return (nil, nil).
func (c *FileCheckpointer) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	data, err := os.ReadFile(c.checkpointPath(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		c.logger.Warn("failed to read checkpoint, starting fresh",
			"thread_id", threadID, "error", err)
		return nil, nil
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		c.logger.Warn("corrupt checkpoint, starting fresh",
			"thread_id", threadID, "error", err)
		return nil, nil
	}
	return &checkpoint, nil
}

// DeleteCheckpoint removes the checkpoint file for a thread.
func (c *FileCheckpointer) DeleteCheckpoint(ctx context.Context, threadID string) error {
	if err := os.Remove(c.checkpointPath(threadID)); err != nil && !os.IsNotExist(err) {
		return &PersistenceError{Op: "delete", ThreadID: threadID, Wrapped: err}
	}
	return nil
}

// ListThreads returns a summary of every checkpointed thread, most recently
// updated first. Unreadable files are skipped.
func (c *FileCheckpointer) ListThreads(ctx context.Context) ([]*ThreadSummary, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*ThreadSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read threads directory: %w", err)
	}

	var summaries []*ThreadSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dataDir, entry.Name()))
		if err != nil {
			continue
		}
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			continue
		}
		summaries = append(summaries, &ThreadSummary{
			ThreadID:     checkpoint.ThreadID,
			WorkflowName: checkpoint.WorkflowName,
			Status:       checkpoint.Status,
			Version:      checkpoint.Version,
			UpdatedAt:    checkpoint.UpdatedAt,
			Error:        checkpoint.Error,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (c *FileCheckpointer) checkpointPath(threadID string) string {
	return filepath.Join(c.dataDir, sanitizeThreadID(threadID)+".json")
}

// sanitizeThreadID maps a thread identity to a safe file name component.
func sanitizeThreadID(threadID string) string {
	var b strings.Builder
	for _, r := range threadID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
