package conductor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCheckpoint(threadID string, version int64) *Checkpoint {
	return &Checkpoint{
		ThreadID:     threadID,
		WorkflowName: "test-workflow",
		Status:       StatusSuspended,
		State:        map[string]any{"answer": "42"},
		Node:         "ask",
		Pending: &PendingInvocation{
			RequestID: "req_pending",
			Node:      "ask",
			Invocation: &ToolInvocation{
				Metadata: ToolMetadata{Name: "ask_user"},
			},
		},
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestFileCheckpointerRoundTrip(t *testing.T) {
	store, err := NewFileCheckpointer(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	saved := testCheckpoint("thread_rt", 1)
	require.NoError(t, store.SaveCheckpoint(ctx, saved))

	loaded, err := store.LoadCheckpoint(ctx, "thread_rt")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, saved.ThreadID, loaded.ThreadID)
	require.Equal(t, saved.Status, loaded.Status)
	require.Equal(t, saved.State, loaded.State)
	require.Equal(t, saved.Version, loaded.Version)
	require.Equal(t, "req_pending", loaded.Pending.RequestID)
	require.Equal(t, "ask_user", loaded.Pending.Invocation.Metadata.Name)
}

func TestFileCheckpointerMissingThreadStartsFresh(t *testing.T) {
	store, err := NewFileCheckpointer(t.TempDir())
	require.NoError(t, err)

	loaded, err := store.LoadCheckpoint(context.Background(), "thread_unknown")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestFileCheckpointerCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileCheckpointer(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "thread_corrupt.json"), []byte("{not json"), 0644))

	loaded, err := store.LoadCheckpoint(context.Background(), "thread_corrupt")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestFileCheckpointerVersioning(t *testing.T) {
	store, err := NewFileCheckpointer(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("fresh save must be version 1", func(t *testing.T) {
		err := store.SaveCheckpoint(ctx, testCheckpoint("thread_v", 2))
		var conflict *VersionConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, int64(1), conflict.Expected)
	})

	t.Run("saves must increment by one", func(t *testing.T) {
		require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("thread_v", 1)))
		require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("thread_v", 2)))

		err := store.SaveCheckpoint(ctx, testCheckpoint("thread_v", 2))
		var conflict *VersionConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, int64(3), conflict.Expected)
		require.Equal(t, int64(2), conflict.Found)

		err = store.SaveCheckpoint(ctx, testCheckpoint("thread_v", 4))
		require.ErrorAs(t, err, &conflict)
	})
}

func TestFileCheckpointerDelete(t *testing.T) {
	store, err := NewFileCheckpointer(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("thread_del", 1)))
	require.NoError(t, store.DeleteCheckpoint(ctx, "thread_del"))

	loaded, err := store.LoadCheckpoint(ctx, "thread_del")
	require.NoError(t, err)
	require.Nil(t, loaded)

	// Deleting a missing thread is not an error.
	require.NoError(t, store.DeleteCheckpoint(ctx, "thread_del"))
}

func TestFileCheckpointerListThreads(t *testing.T) {
	store, err := NewFileCheckpointer(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	older := testCheckpoint("thread_older", 1)
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := testCheckpoint("thread_newer", 1)
	newer.UpdatedAt = time.Now()
	require.NoError(t, store.SaveCheckpoint(ctx, older))
	require.NoError(t, store.SaveCheckpoint(ctx, newer))

	summaries, err := store.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "thread_newer", summaries[0].ThreadID)
	require.Equal(t, "thread_older", summaries[1].ThreadID)
	require.Equal(t, "test-workflow", summaries[0].WorkflowName)
	require.Equal(t, StatusSuspended, summaries[0].Status)
}

func TestFileCheckpointerSanitizesThreadIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileCheckpointer(dir)
	require.NoError(t, err)
	ctx := context.Background()

	hostile := testCheckpoint("../../etc/passwd", 1)
	require.NoError(t, store.SaveCheckpoint(ctx, hostile))

	// The file landed inside the data directory.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	loaded, err := store.LoadCheckpoint(ctx, "../../etc/passwd")
	require.NoError(t, err)
	require.NotNil(t, loaded)
}

func TestFileCheckpointerRejectsEmptyThreadID(t *testing.T) {
	store, err := NewFileCheckpointer(t.TempDir())
	require.NoError(t, err)

	err = store.SaveCheckpoint(context.Background(), &Checkpoint{Version: 1})
	require.Error(t, err)
}
