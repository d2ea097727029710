package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/conductor"
)

func openTestStore(t *testing.T) *Checkpointer {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testCheckpoint(threadID string, version int64) *conductor.Checkpoint {
	return &conductor.Checkpoint{
		ThreadID:     threadID,
		WorkflowName: "test-workflow",
		Status:       conductor.StatusSuspended,
		State:        map[string]any{"answer": "42"},
		Node:         "ask",
		Pending: &conductor.PendingInvocation{
			RequestID: "req_pending",
			Node:      "ask",
			Invocation: &conductor.ToolInvocation{
				Metadata: conductor.ToolMetadata{Name: "ask_user"},
			},
		},
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestSQLiteCheckpointerRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	saved := testCheckpoint("thread_sql", 1)
	require.NoError(t, store.SaveCheckpoint(ctx, saved))

	loaded, err := store.LoadCheckpoint(ctx, "thread_sql")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, saved.State, loaded.State)
	require.Equal(t, conductor.StatusSuspended, loaded.Status)
	require.Equal(t, "req_pending", loaded.Pending.RequestID)
	require.Equal(t, int64(1), loaded.Version)

	missing, err := store.LoadCheckpoint(ctx, "thread_missing")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSQLiteCheckpointerUpdate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("thread_up", 1)))

	updated := testCheckpoint("thread_up", 2)
	updated.Status = conductor.StatusCompleted
	updated.Pending = nil
	require.NoError(t, store.SaveCheckpoint(ctx, updated))

	loaded, err := store.LoadCheckpoint(ctx, "thread_up")
	require.NoError(t, err)
	require.Equal(t, conductor.StatusCompleted, loaded.Status)
	require.Nil(t, loaded.Pending)
	require.Equal(t, int64(2), loaded.Version)
}

func TestSQLiteCheckpointerVersioning(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.SaveCheckpoint(ctx, testCheckpoint("thread_v", 2))
	var conflict *conductor.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(1), conflict.Expected)

	require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("thread_v", 1)))
	err = store.SaveCheckpoint(ctx, testCheckpoint("thread_v", 1))
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(2), conflict.Expected)
	require.Equal(t, int64(1), conflict.Found)
}

func TestSQLiteCheckpointerDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("thread_del", 1)))
	require.NoError(t, store.DeleteCheckpoint(ctx, "thread_del"))

	loaded, err := store.LoadCheckpoint(ctx, "thread_del")
	require.NoError(t, err)
	require.Nil(t, loaded)

	require.NoError(t, store.DeleteCheckpoint(ctx, "thread_del"))
}

func TestSQLiteCheckpointerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("thread_persist", 1)))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadCheckpoint(ctx, "thread_persist")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "42", loaded.State["answer"])
}
