package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of an asynchronous generation task
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Common validation errors for GenerationTask
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyTaskPrompt    = errors.New("task prompt cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInconsistentResult = errors.New("terminal task must carry exactly one of result or error")
	ErrTerminalTransition = errors.New("task status transitions cannot leave a terminal state")
)

// TaskRequest captures the inputs needed to execute (or re-submit) a
// generation job. It is persisted verbatim with the task record.
type TaskRequest struct {
	Prompt          string   `json:"prompt"`
	Model           string   `json:"model,omitempty"`
	ReferenceImages []string `json:"images,omitempty"`
	ReferenceVideos []string `json:"reference_videos,omitempty"`
	FirstFrameImage string   `json:"first_frame_image,omitempty"`
	LastFrameImage  string   `json:"last_frame_image,omitempty"`
	AspectRatio     string   `json:"ratio,omitempty"`
	DurationSeconds int      `json:"duration,omitempty"`
}

// TaskResult holds the output of a succeeded task: the primary artifact
// URL plus an optional secondary artifact (for video, the extracted last
// frame usable as a follow-up reference).
type TaskResult struct {
	URL          string `json:"url"`
	LastFrameURL string `json:"last_frame_url,omitempty"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TaskErrorCodeInterrupted marks a task that was found in running state
// after a process restart. Such tasks are never resumed; the caller must
// submit a new task.
const TaskErrorCodeInterrupted = "interrupted"

// GenerationTask is the durable record of one asynchronous generation
// job, independent of any single HTTP request's lifetime. A task does not
// own an account: account selection happens at execution time, so a retry
// may run on a different account without changing the task id.
type GenerationTask struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Status    TaskStatus  `json:"status"`
	Model     string      `json:"model"`
	Request   TaskRequest `json:"request"`
	Result    *TaskResult `json:"result,omitempty"`
	Error     *TaskError  `json:"error,omitempty"`
}

// NewGenerationTask creates a queued task for the given request.
// It generates an opaque task id and stamps the creation time.
// Returns an error if validation fails.
func NewGenerationTask(model string, request TaskRequest) (*GenerationTask, error) {
	task := &GenerationTask{
		ID:        fmt.Sprintf("vtask_%s", uuid.New().String()),
		CreatedAt: time.Now().UTC(),
		Status:    TaskStatusQueued,
		Model:     model,
		Request:   request,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the GenerationTask has valid data, including the
// terminal-state invariant: exactly one of result or error is set once
// the status is terminal, and neither is set before that.
func (t *GenerationTask) Validate() error {
	if t.ID == "" {
		return ErrEmptyTaskID
	}

	if t.Request.Prompt == "" {
		return ErrEmptyTaskPrompt
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	switch t.Status {
	case TaskStatusSucceeded:
		if t.Result == nil || t.Error != nil {
			return ErrInconsistentResult
		}
	case TaskStatusFailed:
		if t.Error == nil || t.Result != nil {
			return ErrInconsistentResult
		}
	default:
		if t.Result != nil || t.Error != nil {
			return ErrInconsistentResult
		}
	}

	return nil
}

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// CanTransitionTo reports whether moving from the current status to the
// given one is a legal, monotonic transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if !isValidTaskStatus(next) {
		return false
	}

	switch s {
	case TaskStatusQueued:
		return next == TaskStatusRunning || next.Terminal()
	case TaskStatusRunning:
		return next.Terminal()
	default:
		// Terminal states are final.
		return false
	}
}

func isValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed:
		return true
	}
	return false
}
