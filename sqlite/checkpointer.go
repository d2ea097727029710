// Package sqlite provides a single-file checkpoint store with zero setup,
// suitable for local workflows and development.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deepnoodle-ai/conductor"
)

// Checkpointer stores checkpoints in a SQLite database, one row per thread.
// WAL mode keeps concurrent readers unblocked while a save is in flight.
type Checkpointer struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ conductor.Checkpointer = (*Checkpointer)(nil)

// Option configures a Checkpointer.
type Option func(*Checkpointer)

// WithLogger sets the logger used for corruption warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checkpointer) {
		c.logger = logger
	}
}

// Open creates (or opens) a checkpoint database at path. Use ":memory:" for
// an ephemeral store in tests.
func Open(path string, opts ...Option) (*Checkpointer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	// The driver serializes writers; a single connection avoids table-lock
	// errors between them.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure checkpoint database: %w", err)
		}
	}
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			thread_id     TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status        TEXT NOT NULL,
			version       INTEGER NOT NULL,
			data          TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	c := &Checkpointer{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the underlying database.
func (c *Checkpointer) Close() error {
	return c.db.Close()
}

func (c *Checkpointer) SaveCheckpoint(ctx context.Context, checkpoint *conductor.Checkpoint) error {
	threadID := checkpoint.ThreadID
	if threadID == "" {
		return conductor.NewProgrammingError("checkpoint has no thread id")
	}
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return &conductor.PersistenceError{Op: "save", ThreadID: threadID,
			Wrapped: fmt.Errorf("failed to marshal checkpoint: %w", err)}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return &conductor.PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	defer tx.Rollback()

	var stored int64
	row := tx.QueryRowContext(ctx,
		"SELECT version FROM workflow_checkpoints WHERE thread_id = ?", threadID)
	err = row.Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if checkpoint.Version != 1 {
			return &conductor.VersionConflictError{ThreadID: threadID, Expected: 1, Found: 0}
		}
	case err != nil:
		return &conductor.PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	default:
		if checkpoint.Version != stored+1 {
			return &conductor.VersionConflictError{
				ThreadID: threadID, Expected: stored + 1, Found: stored}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (thread_id, workflow_name, status, version, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			workflow_name = excluded.workflow_name,
			status = excluded.status,
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		threadID, checkpoint.WorkflowName, string(checkpoint.Status),
		checkpoint.Version, string(data), checkpoint.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &conductor.PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	if err := tx.Commit(); err != nil {
		return &conductor.PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	return nil
}

func (c *Checkpointer) LoadCheckpoint(ctx context.Context, threadID string) (*conductor.Checkpoint, error) {
	var data string
	row := c.db.QueryRowContext(ctx,
		"SELECT data FROM workflow_checkpoints WHERE thread_id = ?", threadID)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &conductor.PersistenceError{Op: "load", ThreadID: threadID, Wrapped: err}
	}
	var checkpoint conductor.Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		c.logger.Warn("corrupt checkpoint row, starting fresh",
			"thread_id", threadID, "error", err)
		return nil, nil
	}
	return &checkpoint, nil
}

func (c *Checkpointer) DeleteCheckpoint(ctx context.Context, threadID string) error {
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM workflow_checkpoints WHERE thread_id = ?", threadID)
	if err != nil {
		return &conductor.PersistenceError{Op: "delete", ThreadID: threadID, Wrapped: err}
	}
	return nil
}
