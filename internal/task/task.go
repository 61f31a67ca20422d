// Package task implements the async task store and state machine for
// long-running generation jobs, plus the background runner that drains
// queued tasks through the same admission budget as the synchronous
// path.
package task

import (
	"context"
	"errors"

	"github.com/mirageproxy/mirage/internal/domain"
)

// Common errors returned by the task store.
var (
	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrIllegalTransition is returned when a state change would leave
	// a terminal state or skip the lifecycle order.
	ErrIllegalTransition = errors.New("illegal task state transition")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("task store is closed")

	// ErrStoreLocked is returned when another live process already owns
	// the task file. Exactly one writer may own the file; a second one
	// must fail loudly rather than corrupt it.
	ErrStoreLocked = errors.New("task store is locked by another process")
)

// Store persists tasks across the queued -> running -> {succeeded,
// failed} lifecycle. Every transition is written durably before it is
// observable; persistence failures are surfaced, never swallowed, since
// losing durability breaks the async contract.
type Store interface {
	// Save persists a new queued task.
	Save(ctx context.Context, t *domain.GenerationTask) error

	// Get returns the task with the given id or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*domain.GenerationTask, error)

	// List returns all tasks in creation order.
	List(ctx context.Context) ([]*domain.GenerationTask, error)

	// MarkRunning transitions a queued task to running.
	MarkRunning(ctx context.Context, id string) error

	// Complete transitions a running task to succeeded with its result.
	Complete(ctx context.Context, id string, result *domain.TaskResult) error

	// Fail transitions a queued or running task to failed with its error.
	Fail(ctx context.Context, id string, taskErr *domain.TaskError) error

	// Close releases the store's exclusive file lock.
	Close() error
}
