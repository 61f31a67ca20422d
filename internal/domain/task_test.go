package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageproxy/mirage/internal/domain"
)

func TestNewGenerationTask(t *testing.T) {
	t.Parallel()

	t.Run("creates a queued task with generated id", func(t *testing.T) {
		t.Parallel()

		task, err := domain.NewGenerationTask("veo-2.0-generate-001", domain.TaskRequest{
			Prompt: "a lighthouse at dusk",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, task.ID)
		assert.Contains(t, task.ID, "vtask_")
		assert.Equal(t, domain.TaskStatusQueued, task.Status)
		assert.False(t, task.CreatedAt.IsZero())
		assert.Nil(t, task.Result)
		assert.Nil(t, task.Error)
	})

	t.Run("rejects empty prompt", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewGenerationTask("veo-2.0-generate-001", domain.TaskRequest{})
		assert.ErrorIs(t, err, domain.ErrEmptyTaskPrompt)
	})
}

func TestGenerationTaskValidate(t *testing.T) {
	t.Parallel()

	base := func() *domain.GenerationTask {
		task, err := domain.NewGenerationTask("veo-2.0-generate-001", domain.TaskRequest{
			Prompt: "a lighthouse at dusk",
		})
		require.NoError(t, err)
		return task
	}

	t.Run("succeeded requires result and no error", func(t *testing.T) {
		t.Parallel()

		task := base()
		task.Status = domain.TaskStatusSucceeded
		assert.ErrorIs(t, task.Validate(), domain.ErrInconsistentResult)

		task.Result = &domain.TaskResult{URL: "http://localhost/static/generated/vid_1.mp4"}
		assert.NoError(t, task.Validate())

		task.Error = &domain.TaskError{Code: "upstream_error", Message: "boom"}
		assert.ErrorIs(t, task.Validate(), domain.ErrInconsistentResult)
	})

	t.Run("failed requires error and no result", func(t *testing.T) {
		t.Parallel()

		task := base()
		task.Status = domain.TaskStatusFailed
		assert.ErrorIs(t, task.Validate(), domain.ErrInconsistentResult)

		task.Error = &domain.TaskError{Code: "timeout", Message: "deadline exceeded"}
		assert.NoError(t, task.Validate())
	})

	t.Run("non-terminal states carry neither result nor error", func(t *testing.T) {
		t.Parallel()

		task := base()
		task.Result = &domain.TaskResult{URL: "http://localhost/x"}
		assert.ErrorIs(t, task.Validate(), domain.ErrInconsistentResult)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		t.Parallel()

		task := base()
		task.Status = domain.TaskStatus("paused")
		assert.ErrorIs(t, task.Validate(), domain.ErrInvalidTaskStatus)
	})
}

func TestTaskStatusCanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    domain.TaskStatus
		to      domain.TaskStatus
		allowed bool
	}{
		{"queued to running", domain.TaskStatusQueued, domain.TaskStatusRunning, true},
		{"queued to failed", domain.TaskStatusQueued, domain.TaskStatusFailed, true},
		{"queued to succeeded", domain.TaskStatusQueued, domain.TaskStatusSucceeded, true},
		{"running to succeeded", domain.TaskStatusRunning, domain.TaskStatusSucceeded, true},
		{"running to failed", domain.TaskStatusRunning, domain.TaskStatusFailed, true},
		{"running back to queued", domain.TaskStatusRunning, domain.TaskStatusQueued, false},
		{"succeeded is final", domain.TaskStatusSucceeded, domain.TaskStatusRunning, false},
		{"failed is final", domain.TaskStatusFailed, domain.TaskStatusQueued, false},
		{"failed cannot flip to succeeded", domain.TaskStatusFailed, domain.TaskStatusSucceeded, false},
		{"unknown target", domain.TaskStatusQueued, domain.TaskStatus("paused"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.TaskStatusQueued.Terminal())
	assert.False(t, domain.TaskStatusRunning.Terminal())
	assert.True(t, domain.TaskStatusSucceeded.Terminal())
	assert.True(t, domain.TaskStatusFailed.Terminal())
}
