package task

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageproxy/mirage/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newQueuedTask(t *testing.T) *domain.GenerationTask {
	t.Helper()
	task, err := domain.NewGenerationTask("veo-2.0-generate-001", domain.TaskRequest{
		Prompt: "a lighthouse at dusk",
	})
	require.NoError(t, err)
	return task
}

func openStore(t *testing.T, path string) *FileStore {
	t.Helper()
	store, err := OpenFileStore(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFileStoreLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("saved task is retrievable as queued", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		task := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, task))

		got, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, got.Status)
		assert.Equal(t, task.Request.Prompt, got.Request.Prompt)
	})

	t.Run("duplicate save is rejected", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		task := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, task))
		assert.Error(t, store.Save(ctx, task))
	})

	t.Run("unknown id returns ErrTaskNotFound", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		_, err := store.Get(ctx, "vtask_missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("full transition to succeeded", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		task := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, task))
		require.NoError(t, store.MarkRunning(ctx, task.ID))

		result := &domain.TaskResult{URL: "http://localhost/static/generated/vid_1.mp4"}
		require.NoError(t, store.Complete(ctx, task.ID, result))

		got, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, result.URL, got.Result.URL)
		assert.Nil(t, got.Error)
	})

	t.Run("terminal states are immutable", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		task := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, task))
		require.NoError(t, store.Fail(ctx, task.ID, &domain.TaskError{Code: "timeout", Message: "x"}))

		assert.ErrorIs(t, store.MarkRunning(ctx, task.ID),
			ErrIllegalTransition)
		assert.ErrorIs(t, store.Complete(ctx, task.ID, &domain.TaskResult{URL: "u"}),
			ErrIllegalTransition)
		assert.ErrorIs(t, store.Fail(ctx, task.ID, &domain.TaskError{Code: "x", Message: "y"}),
			ErrIllegalTransition)
	})

	t.Run("running cannot return to queued", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		task := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, task))
		require.NoError(t, store.MarkRunning(ctx, task.ID))
		assert.ErrorIs(t, store.MarkRunning(ctx, task.ID), ErrIllegalTransition)
	})

	t.Run("complete requires a result and fail requires an error", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		task := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, task))

		assert.ErrorIs(t, store.Complete(ctx, task.ID, nil), ErrIllegalTransition)
		assert.ErrorIs(t, store.Fail(ctx, task.ID, nil), ErrIllegalTransition)
	})

	t.Run("returned tasks are detached copies", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		task := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, task))

		got, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		got.Status = domain.TaskStatusFailed

		again, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, again.Status)
	})

	t.Run("list preserves creation order", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))

		first := newQueuedTask(t)
		second := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, first))
		require.NoError(t, store.Save(ctx, second))

		tasks, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, first.ID, tasks[0].ID)
		assert.Equal(t, second.ID, tasks[1].ID)
	})

	t.Run("closed store rejects operations", func(t *testing.T) {
		t.Parallel()
		store := openStore(t, filepath.Join(t.TempDir(), "tasks.json"))
		require.NoError(t, store.Close())

		assert.ErrorIs(t, store.Save(ctx, newQueuedTask(t)), ErrStoreClosed)
		_, err := store.Get(ctx, "vtask_x")
		assert.ErrorIs(t, err, ErrStoreClosed)
		_, err = store.List(ctx)
		assert.ErrorIs(t, err, ErrStoreClosed)
	})
}

func TestFileStorePersistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("state survives reopen", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "tasks.json")

		store := openStore(t, path)
		task := newQueuedTask(t)
		require.NoError(t, store.Save(ctx, task))
		require.NoError(t, store.MarkRunning(ctx, task.ID))
		require.NoError(t, store.Complete(ctx, task.ID, &domain.TaskResult{URL: "http://localhost/u"}))
		require.NoError(t, store.Close())

		reopened := openStore(t, path)
		got, err := reopened.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
	})

	t.Run("persisted file never holds a partial write", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "tasks.json")

		store := openStore(t, path)
		require.NoError(t, store.Save(ctx, newQueuedTask(t)))

		// The visible file is always a complete rename target.
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		var file taskFile
		require.NoError(t, json.Unmarshal(raw, &file))
		assert.Len(t, file.Tasks, 1)
		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})
}

func TestFileStoreCrashRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "tasks.json")

	// Simulate a crash: a task file left behind with a running record and
	// no live lock holder.
	running := newQueuedTask(t)
	running.Status = domain.TaskStatusRunning
	queued := newQueuedTask(t)
	raw, err := json.Marshal(taskFile{Tasks: []*domain.GenerationTask{running, queued}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	store := openStore(t, path)

	got, err := store.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.TaskErrorCodeInterrupted, got.Error.Code)
	assert.Nil(t, got.Result)

	// Queued tasks are left intact for requeueing.
	got, err = store.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
}

func TestFileStoreLock(t *testing.T) {
	t.Parallel()

	t.Run("live lock holder blocks open", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "tasks.json")

		store := openStore(t, path)
		_ = store

		_, err := OpenFileStore(path, testLogger())
		assert.ErrorIs(t, err, ErrStoreLocked)
	})

	t.Run("stale lock from a dead process is taken over", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "tasks.json")

		// No process can have this pid.
		require.NoError(t, os.WriteFile(path+".lock", []byte("999999999\n"), 0o644))

		store, err := OpenFileStore(path, testLogger())
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("close releases the lock", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "tasks.json")

		store := openStore(t, path)
		require.NoError(t, store.Close())

		reopened, err := OpenFileStore(path, testLogger())
		require.NoError(t, err)
		require.NoError(t, reopened.Close())
	})
}
