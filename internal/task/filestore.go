package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mirageproxy/mirage/internal/domain"
)

// taskFile is the durable on-disk representation: a mapping from task id
// to task record, serialized as a list to keep creation order.
type taskFile struct {
	UpdatedAt int64                    `json:"updated_at"`
	Tasks     []*domain.GenerationTask `json:"tasks"`
}

// FileStore is a Store backed by a single JSON file. Every state
// transition is written with the write-temp-then-rename discipline so a
// crash can never leave a partial record. An exclusive pid lock file
// next to the task file enforces the single-process ownership invariant.
type FileStore struct {
	mu       sync.Mutex
	path     string
	lockPath string
	tasks    map[string]*domain.GenerationTask
	order    []string
	logger   *slog.Logger
	closed   bool
}

// OpenFileStore opens (or creates) the task file at path, acquires the
// single-writer lock, and runs crash recovery: any task left in running
// state by a prior process is failed with an "interrupted" error. It is
// never silently resumed, since engine-side effects of the interrupted
// run cannot be replayed safely.
func OpenFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task store directory: %w", err)
	}

	s := &FileStore{
		path:     path,
		lockPath: path + ".lock",
		tasks:    make(map[string]*domain.GenerationTask),
		logger:   logger,
	}

	if err := s.acquireLock(); err != nil {
		return nil, err
	}

	if err := s.load(); err != nil {
		s.releaseLock()
		return nil, err
	}

	if err := s.recoverInterrupted(); err != nil {
		s.releaseLock()
		return nil, err
	}

	return s, nil
}

// acquireLock creates the pid lock file exclusively. A lock held by a
// dead process is treated as stale and replaced; a lock held by a live
// process is a hard error.
func (s *FileStore) acquireLock() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, writeErr := fmt.Fprintf(f, "%d\n", os.Getpid())
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				_ = os.Remove(s.lockPath)
				return fmt.Errorf("failed to write task store lock file: %w", errors.Join(writeErr, closeErr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create task store lock file: %w", err)
		}

		raw, readErr := os.ReadFile(s.lockPath)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue // lock vanished between attempts, retry
			}
			return fmt.Errorf("failed to read task store lock file: %w", readErr)
		}

		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if parseErr == nil && processAlive(pid) {
			return fmt.Errorf("%w: pid %d", ErrStoreLocked, pid)
		}

		// Stale lock from a dead process; take it over.
		s.logger.Warn("removing stale task store lock", "path", s.lockPath, "pid", pid)
		if removeErr := os.Remove(s.lockPath); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("failed to remove stale task store lock: %w", removeErr)
		}
	}
	return fmt.Errorf("%w: could not acquire lock at %s", ErrStoreLocked, s.lockPath)
}

func (s *FileStore) releaseLock() {
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error("failed to remove task store lock", "path", s.lockPath, "error", err)
	}
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// load reads the task file if present. Individual malformed records are
// skipped with a warning; only an unreadable file is fatal.
func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read task file %s: %w", s.path, err)
	}

	var file taskFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse task file %s: %w", s.path, err)
	}

	for _, t := range file.Tasks {
		if t == nil || t.ID == "" {
			s.logger.Warn("skipping malformed task record")
			continue
		}
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
	}

	return nil
}

// recoverInterrupted fails every task found in running state and
// persists the result in one write.
func (s *FileStore) recoverInterrupted() error {
	interrupted := 0
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != domain.TaskStatusRunning {
			continue
		}
		t.Status = domain.TaskStatusFailed
		t.Result = nil
		t.Error = &domain.TaskError{
			Code:    domain.TaskErrorCodeInterrupted,
			Message: "task was interrupted by a process restart; submit a new task to retry",
		}
		interrupted++
	}

	if interrupted == 0 {
		return nil
	}

	s.logger.Info("failed interrupted tasks from previous run", "count", interrupted)
	return s.persistLocked()
}

// persistLocked writes the full task file atomically. Caller must hold
// the lock (or be in single-threaded startup).
func (s *FileStore) persistLocked() error {
	file := taskFile{
		UpdatedAt: time.Now().Unix(),
		Tasks:     make([]*domain.GenerationTask, 0, len(s.order)),
	}
	for _, id := range s.order {
		file.Tasks = append(file.Tasks, s.tasks[id])
	}

	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to encode task file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace task file: %w", err)
	}
	return nil
}

// Save persists a new queued task.
func (s *FileStore) Save(_ context.Context, t *domain.GenerationTask) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}

	stored := cloneTask(t)
	s.tasks[t.ID] = stored
	s.order = append(s.order, t.ID)
	return s.persistLocked()
}

// Get returns a copy of the task with the given id.
func (s *FileStore) Get(_ context.Context, id string) (*domain.GenerationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return cloneTask(t), nil
}

// List returns copies of all tasks in creation order.
func (s *FileStore) List(_ context.Context) ([]*domain.GenerationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	tasks := make([]*domain.GenerationTask, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, cloneTask(s.tasks[id]))
	}
	return tasks, nil
}

// MarkRunning transitions a queued task to running.
func (s *FileStore) MarkRunning(_ context.Context, id string) error {
	return s.transition(id, domain.TaskStatusRunning, nil, nil)
}

// Complete transitions a running task to succeeded.
func (s *FileStore) Complete(_ context.Context, id string, result *domain.TaskResult) error {
	if result == nil {
		return fmt.Errorf("%w: succeeded task requires a result", ErrIllegalTransition)
	}
	return s.transition(id, domain.TaskStatusSucceeded, result, nil)
}

// Fail transitions a queued or running task to failed.
func (s *FileStore) Fail(_ context.Context, id string, taskErr *domain.TaskError) error {
	if taskErr == nil {
		return fmt.Errorf("%w: failed task requires an error", ErrIllegalTransition)
	}
	return s.transition(id, domain.TaskStatusFailed, nil, taskErr)
}

func (s *FileStore) transition(id string, next domain.TaskStatus, result *domain.TaskResult, taskErr *domain.TaskError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s for task %s", ErrIllegalTransition, t.Status, next, id)
	}

	prevStatus, prevResult, prevError := t.Status, t.Result, t.Error
	t.Status = next
	t.Result = result
	t.Error = taskErr

	if err := s.persistLocked(); err != nil {
		// Keep the in-memory view consistent with what is on disk.
		t.Status, t.Result, t.Error = prevStatus, prevResult, prevError
		return err
	}
	return nil
}

// Close releases the single-writer lock. The store rejects further
// operations afterwards.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.releaseLock()
	return nil
}

func cloneTask(t *domain.GenerationTask) *domain.GenerationTask {
	clone := *t
	if t.Result != nil {
		result := *t.Result
		clone.Result = &result
	}
	if t.Error != nil {
		taskErr := *t.Error
		clone.Error = &taskErr
	}
	return &clone
}
