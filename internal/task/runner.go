package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mirageproxy/mirage/internal/dispatch"
	"github.com/mirageproxy/mirage/internal/domain"
	"github.com/mirageproxy/mirage/internal/engine"
	"github.com/mirageproxy/mirage/internal/pool"
)

// ErrQueueFull is returned by Submit when the in-memory drain queue has
// no room. The task record is failed before the error is returned so no
// orphaned queued record lingers in the store.
var ErrQueueFull = errors.New("task queue is full, try again later")

// Publisher turns an engine artifact into the task result exposed to
// callers. The storage/URL-issuing collaborator implements it.
type Publisher interface {
	Publish(ctx context.Context, artifact *engine.Artifact) (*domain.TaskResult, error)
}

// RunnerConfig holds configuration for the background task runner.
type RunnerConfig struct {
	// WorkerCount determines how many queued tasks may be claimed
	// concurrently. Each claimed task still competes for the shared
	// global and per-account admission budget.
	WorkerCount int

	// QueueSize is the buffer size of the in-memory drain queue.
	QueueSize int

	// AdmissionRetryDelay is how long a claimed task waits before
	// retrying when the shared admission budget is saturated. Queuing
	// is the async path's contract, so saturation is a wait, not a
	// failure.
	AdmissionRetryDelay time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:         2,
		QueueSize:           100,
		AdmissionRetryDelay: 2 * time.Second,
	}
}

// Runner drains queued tasks through the dispatcher. Async and sync
// requests share one admission budget, so neither path can starve the
// other beyond its configured limits.
type Runner struct {
	store      Store
	dispatcher *dispatch.Dispatcher
	publisher  Publisher
	cfg        RunnerConfig
	queue      chan string
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(store Store, dispatcher *dispatch.Dispatcher, publisher Publisher, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = DefaultRunnerConfig().WorkerCount
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultRunnerConfig().QueueSize
	}
	if cfg.AdmissionRetryDelay <= 0 {
		cfg.AdmissionRetryDelay = DefaultRunnerConfig().AdmissionRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		cfg:        cfg,
		queue:      make(chan string, cfg.QueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
		logger:     logger,
	}
}

// Submit persists a queued task and hands it to the drain loop. It
// returns as soon as the record is durable; execution happens in the
// background. This is the non-blocking contract that distinguishes the
// async path from the dispatcher's synchronous path.
func (r *Runner) Submit(ctx context.Context, model string, request domain.TaskRequest) (*domain.GenerationTask, error) {
	t, err := domain.NewGenerationTask(model, request)
	if err != nil {
		return nil, err
	}

	if err := r.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	select {
	case r.queue <- t.ID:
		return t, nil
	default:
		// Fail the record so the store never holds a queued task no
		// worker will ever claim in this process.
		taskErr := &domain.TaskError{Code: "queue_full", Message: "task queue is full"}
		if failErr := r.store.Fail(ctx, t.ID, taskErr); failErr != nil {
			r.logger.Error("failed to mark overflowed task as failed",
				"task_id", t.ID, "error", failErr)
		}
		return nil, ErrQueueFull
	}
}

// Get returns the task with the given id.
func (r *Runner) Get(ctx context.Context, id string) (*domain.GenerationTask, error) {
	return r.store.Get(ctx, id)
}

// Start requeues queued tasks recovered from the store and launches the
// worker goroutines. Tasks found in running state were already failed
// as interrupted by the store's crash recovery.
func (r *Runner) Start() error {
	tasks, err := r.store.List(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks for recovery: %w", err)
	}

	requeued := 0
	for _, t := range tasks {
		if t.Status != domain.TaskStatusQueued {
			continue
		}
		select {
		case r.queue <- t.ID:
			requeued++
		default:
			r.logger.Error("failed to requeue recovered task, queue is full", "task_id", t.ID)
		}
	}
	if requeued > 0 {
		r.logger.Info("requeued tasks from previous run", "count", requeued)
	}

	for i := 0; i < r.cfg.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	return nil
}

// Stop shuts the runner down. Tasks claimed but unfinished stay in
// running state and are failed as interrupted on the next startup.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting task worker", "worker_id", id)
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping task worker", "worker_id", id)
			return
		case taskID := <-r.queue:
			r.process(taskID, id)
		}
	}
}

// process executes one claimed task end to end and persists its
// terminal state.
func (r *Runner) process(taskID string, workerID int) {
	logger := r.logger.With("task_id", taskID, "worker_id", workerID)

	t, err := r.store.Get(r.ctx, taskID)
	if err != nil {
		logger.Error("failed to load claimed task", "error", err)
		return
	}

	if err := r.store.MarkRunning(r.ctx, taskID); err != nil {
		logger.Error("failed to mark task running", "error", err)
		return
	}

	logger.Info("processing task", "model", t.Model)
	req := engineRequest(t)

	for {
		artifact, dispatchErr := r.dispatcher.Dispatch(r.ctx, req)
		if dispatchErr == nil {
			result, publishErr := r.publisher.Publish(r.ctx, artifact)
			if publishErr != nil {
				logger.Error("failed to publish artifact", "error", publishErr)
				r.fail(taskID, logger, &domain.TaskError{
					Code:    "storage_error",
					Message: "failed to store generated artifact",
				})
				return
			}
			if err := r.store.Complete(r.ctx, taskID, result); err != nil {
				logger.Error("failed to persist task success", "error", err)
				return
			}
			logger.Info("task succeeded", "url", result.URL)
			return
		}

		// Saturation of the shared budget is a wait, not a failure:
		// the async path queues where the sync path fails fast.
		if errors.Is(dispatchErr, pool.ErrCapacityExceeded) || errors.Is(dispatchErr, pool.ErrNoAccountAvailable) {
			logger.Debug("admission busy, retrying task", "error", dispatchErr)
			select {
			case <-r.ctx.Done():
				// Shutdown mid-task: the record stays running and the
				// next startup fails it as interrupted.
				return
			case <-time.After(r.cfg.AdmissionRetryDelay):
				continue
			}
		}

		failure := engine.AsFailure(dispatchErr)
		logger.Error("task failed", "failure_kind", string(failure.Kind), "error", dispatchErr)
		r.fail(taskID, logger, &domain.TaskError{
			Code:    string(failure.Kind),
			Message: failure.Message,
		})
		return
	}
}

func (r *Runner) fail(taskID string, logger *slog.Logger, taskErr *domain.TaskError) {
	if err := r.store.Fail(r.ctx, taskID, taskErr); err != nil {
		logger.Error("failed to persist task failure", "error", err)
	}
}

// engineRequest maps a stored task to the engine call that executes it.
// The async path carries video jobs; account selection happens inside
// the dispatcher at execution time, independent of the task identity.
func engineRequest(t *domain.GenerationTask) engine.Request {
	return engine.Request{
		Kind:            engine.ArtifactVideo,
		Prompt:          t.Request.Prompt,
		Model:           t.Model,
		ReferenceImages: t.Request.ReferenceImages,
		ReferenceVideos: t.Request.ReferenceVideos,
		FirstFrameImage: t.Request.FirstFrameImage,
		LastFrameImage:  t.Request.LastFrameImage,
		AspectRatio:     t.Request.AspectRatio,
		DurationSeconds: t.Request.DurationSeconds,
	}
}
