// Package postgres provides a PostgreSQL-backed checkpoint store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/deepnoodle-ai/conductor"
)

const defaultTable = "workflow_checkpoints"

// Checkpointer stores one row per thread identity. Saves run inside a
// transaction with a row lock, so the optimistic version check and the
// write are atomic even across processes.
type Checkpointer struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

var _ conductor.Checkpointer = (*Checkpointer)(nil)

// Option configures a Checkpointer.
type Option func(*Checkpointer)

// WithTable overrides the checkpoint table name.
func WithTable(table string) Option {
	return func(c *Checkpointer) {
		c.table = table
	}
}

// WithLogger sets the logger used for corruption warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checkpointer) {
		c.logger = logger
	}
}

// New creates a checkpointer on an existing database handle, creating the
// checkpoint table if needed. The caller owns the handle.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Checkpointer, error) {
	c := &Checkpointer{
		db:     db,
		table:  defaultTable,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			thread_id     TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status        TEXT NOT NULL,
			version       BIGINT NOT NULL,
			data          JSONB NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, c.table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return c, nil
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
		fmt.Sprintf("SELECT version FROM %s WHERE thread_id = $1 FOR UPDATE", c.table), threadID)
	err = row.Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if checkpoint.Version != 1 {
			return &conductor.VersionConflictError{ThreadID: threadID, Expected: 1, Found: 0}
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (thread_id, workflow_name, status, version, data, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, c.table),
			threadID, checkpoint.WorkflowName, string(checkpoint.Status),
			checkpoint.Version, data, checkpoint.UpdatedAt)
	case err != nil:
		return &conductor.PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	default:
		if checkpoint.Version != stored+1 {
			return &conductor.VersionConflictError{
				ThreadID: threadID, Expected: stored + 1, Found: stored}
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET workflow_name = $2, status = $3, version = $4, data = $5, updated_at = $6
			WHERE thread_id = $1`, c.table),
			threadID, checkpoint.WorkflowName, string(checkpoint.Status),
			checkpoint.Version, data, checkpoint.UpdatedAt)
	}
	if err != nil {
		return &conductor.PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	if err := tx.Commit(); err != nil {
		return &conductor.PersistenceError{Op: "save", ThreadID: threadID, Wrapped: err}
	}
	return nil
}

func (c *Checkpointer) LoadCheckpoint(ctx context.Context, threadID string) (*conductor.Checkpoint, error) {
	var data []byte
	row := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE thread_id = $1", c.table), threadID)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &conductor.PersistenceError{Op: "load", ThreadID: threadID, Wrapped: err}
	}
	var checkpoint conductor.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		c.logger.Warn("corrupt checkpoint row, starting fresh",
			"thread_id", threadID, "error", err)
		return nil, nil
	}
	return &checkpoint, nil
}

func (c *Checkpointer) DeleteCheckpoint(ctx context.Context, threadID string) error {
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1", c.table), threadID)
	if err != nil {
		return &conductor.PersistenceError{Op: "delete", ThreadID: threadID, Wrapped: err}
	}
	return nil
}
