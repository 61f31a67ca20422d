package task

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageproxy/mirage/internal/dispatch"
	"github.com/mirageproxy/mirage/internal/domain"
	"github.com/mirageproxy/mirage/internal/engine"
	"github.com/mirageproxy/mirage/internal/pool"
)

// scriptedEngine returns a fixed outcome per call.
type scriptedEngine struct {
	calls   atomic.Int64
	execute func(call int64) (*engine.Artifact, error)
}

func (s *scriptedEngine) Execute(context.Context, engine.Request, *domain.Account) (*engine.Artifact, error) {
	return s.execute(s.calls.Add(1))
}

// urlPublisher maps artifacts to a fixed URL without touching disk.
type urlPublisher struct{}

func (urlPublisher) Publish(_ context.Context, artifact *engine.Artifact) (*domain.TaskResult, error) {
	return &domain.TaskResult{URL: "http://localhost/static/generated/" + artifact.Path}, nil
}

func newRunnerFixture(t *testing.T, eng engine.Engine, poolCfg pool.Config, runnerCfg RunnerConfig) (*Runner, *pool.Pool) {
	t.Helper()

	account, err := domain.NewAccount("a", "", json.RawMessage(`{"api_key":"k"}`))
	require.NoError(t, err)
	p, err := pool.New([]*domain.Account{account}, poolCfg, testLogger())
	require.NoError(t, err)

	store := openStore(t, t.TempDir()+"/tasks.json")
	dispatcher := dispatch.New(p, eng, dispatch.Config{Timeout: 5 * time.Second}, testLogger())
	runner := NewRunner(store, dispatcher, urlPublisher{}, runnerCfg, testLogger())
	return runner, p
}

func defaultTestPoolConfig() pool.Config {
	return pool.Config{GlobalLimit: 2, PerAccountLimit: 2, Cooldown: time.Minute}
}

func fastRunnerConfig() RunnerConfig {
	return RunnerConfig{WorkerCount: 1, QueueSize: 8, AdmissionRetryDelay: 10 * time.Millisecond}
}

func waitTerminal(t *testing.T, runner *Runner, id string) *domain.GenerationTask {
	t.Helper()
	var got *domain.GenerationTask
	require.Eventually(t, func() bool {
		task, err := runner.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = task
		return task.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestRunnerProcessesTask(t *testing.T) {
	t.Parallel()

	eng := &scriptedEngine{execute: func(int64) (*engine.Artifact, error) {
		return &engine.Artifact{Path: "out.mp4", MIMEType: "video/mp4"}, nil
	}}
	runner, _ := newRunnerFixture(t, eng, defaultTestPoolConfig(), fastRunnerConfig())
	require.NoError(t, runner.Start())
	defer runner.Stop()

	task, err := runner.Submit(context.Background(), "veo-2.0-generate-001", domain.TaskRequest{
		Prompt: "a lighthouse at dusk",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, task.Status)

	got := waitTerminal(t, runner, task.ID)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "http://localhost/static/generated/out.mp4", got.Result.URL)
	assert.Nil(t, got.Error)
}

func TestRunnerRecordsEngineFailure(t *testing.T) {
	t.Parallel()

	eng := &scriptedEngine{execute: func(int64) (*engine.Artifact, error) {
		return nil, engine.NewFailure(engine.FailureInvalidInput, "prompt rejected", nil)
	}}
	runner, _ := newRunnerFixture(t, eng, defaultTestPoolConfig(), fastRunnerConfig())
	require.NoError(t, runner.Start())
	defer runner.Stop()

	task, err := runner.Submit(context.Background(), "veo-2.0-generate-001", domain.TaskRequest{
		Prompt: "a lighthouse at dusk",
	})
	require.NoError(t, err)

	got := waitTerminal(t, runner, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, string(engine.FailureInvalidInput), got.Error.Code)
	assert.Nil(t, got.Result)
}

func TestRunnerWaitsOutSaturatedAdmission(t *testing.T) {
	t.Parallel()

	eng := &scriptedEngine{execute: func(int64) (*engine.Artifact, error) {
		return &engine.Artifact{Path: "out.mp4", MIMEType: "video/mp4"}, nil
	}}
	runner, p := newRunnerFixture(t, eng,
		pool.Config{GlobalLimit: 1, PerAccountLimit: 1, Cooldown: time.Minute},
		fastRunnerConfig())
	require.NoError(t, runner.Start())
	defer runner.Stop()

	// Saturate the shared budget the way a sync request would.
	held, err := p.TryAcquireGlobal()
	require.NoError(t, err)

	task, err := runner.Submit(context.Background(), "veo-2.0-generate-001", domain.TaskRequest{
		Prompt: "a lighthouse at dusk",
	})
	require.NoError(t, err)

	// The async path queues rather than failing while the budget is gone.
	time.Sleep(100 * time.Millisecond)
	got, err := runner.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)

	held.Release()
	got = waitTerminal(t, runner, task.ID)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
}

func TestRunnerQueueOverflow(t *testing.T) {
	t.Parallel()

	eng := &scriptedEngine{execute: func(int64) (*engine.Artifact, error) {
		return &engine.Artifact{Path: "out.mp4", MIMEType: "video/mp4"}, nil
	}}
	// Workers never started, so the queue fills and stays full.
	runner, _ := newRunnerFixture(t, eng, defaultTestPoolConfig(),
		RunnerConfig{WorkerCount: 1, QueueSize: 1, AdmissionRetryDelay: 10 * time.Millisecond})

	first, err := runner.Submit(context.Background(), "m", domain.TaskRequest{Prompt: "one"})
	require.NoError(t, err)

	_, err = runner.Submit(context.Background(), "m", domain.TaskRequest{Prompt: "two"})
	assert.ErrorIs(t, err, ErrQueueFull)

	// The first task is still queued; no overflowed record lingers as
	// queued.
	got, err := runner.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
}

func TestRunnerRequeuesRecoveredTasks(t *testing.T) {
	t.Parallel()

	account, err := domain.NewAccount("a", "", json.RawMessage(`{"api_key":"k"}`))
	require.NoError(t, err)
	p, err := pool.New([]*domain.Account{account}, defaultTestPoolConfig(), testLogger())
	require.NoError(t, err)

	path := t.TempDir() + "/tasks.json"
	queued := newQueuedTask(t)

	// A previous process persisted the task but never claimed it.
	seed := openStore(t, path)
	require.NoError(t, seed.Save(context.Background(), queued))
	require.NoError(t, seed.Close())

	store := openStore(t, path)
	eng := &scriptedEngine{execute: func(int64) (*engine.Artifact, error) {
		return &engine.Artifact{Path: "out.mp4", MIMEType: "video/mp4"}, nil
	}}
	dispatcher := dispatch.New(p, eng, dispatch.Config{Timeout: 5 * time.Second}, testLogger())
	runner := NewRunner(store, dispatcher, urlPublisher{}, fastRunnerConfig(), testLogger())
	require.NoError(t, runner.Start())
	defer runner.Stop()

	got := waitTerminal(t, runner, queued.ID)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
}
