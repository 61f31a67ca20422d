// Package dispatch implements the synchronous request path: admission,
// account selection, engine invocation under a bounded deadline, outcome
// recording, and unconditional resource release.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mirageproxy/mirage/internal/domain"
	"github.com/mirageproxy/mirage/internal/engine"
	"github.com/mirageproxy/mirage/internal/pool"
)

// Config holds the dispatcher's timeout and failover policy.
type Config struct {
	// Timeout bounds one engine call. The dispatcher, not the engine,
	// imposes this: when it elapses the call counts as failed with
	// FailureTimeout and resources are released immediately.
	Timeout time.Duration

	// RetryOnSessionInvalid enables one transparent failover retry on a
	// different account after a session_invalid failure. A single retry
	// bounds worst-case latency while still giving failover a chance.
	RetryOnSessionInvalid bool
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:               80 * time.Second,
		RetryOnSessionInvalid: true,
	}
}

// Dispatcher orchestrates one generation request through the pool and
// the engine. It holds no mutable state of its own; everything shared
// lives in the pool aggregate.
type Dispatcher struct {
	pool   *pool.Pool
	engine engine.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates a Dispatcher.
func New(p *pool.Pool, eng engine.Engine, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Dispatcher{pool: p, engine: eng, cfg: cfg, logger: logger}
}

// Dispatch runs one request end to end:
//
//  1. acquire a global permit (fail fast with ErrCapacityExceeded),
//  2. atomically select an account and claim its slot
//     (fail with ErrNoAccountAvailable, releasing the global permit),
//  3. invoke the engine under the configured deadline,
//  4. report the outcome to the pool,
//  5. release both permits in reverse acquisition order.
//
// Release happens on every exit path, including timeout and caller
// cancellation. On a session_invalid failure the dispatcher may retry
// once on a different account before surfacing the error.
func (d *Dispatcher) Dispatch(ctx context.Context, req engine.Request) (*engine.Artifact, error) {
	global, err := d.pool.TryAcquireGlobal()
	if err != nil {
		return nil, err
	}
	defer global.Release()

	artifact, err := d.executeOnce(ctx, req)
	if err == nil {
		return artifact, nil
	}

	var failure *engine.Failure
	if d.cfg.RetryOnSessionInvalid && errors.As(err, &failure) && failure.Kind == engine.FailureSessionInvalid {
		d.logger.Warn("retrying on alternate account after session failure", "model", req.Model)
		artifact, retryErr := d.executeOnce(ctx, req)
		if retryErr == nil {
			return artifact, nil
		}
		// No alternate account meant failover never had a chance;
		// surface the original session failure in that case.
		if errors.Is(retryErr, pool.ErrNoAccountAvailable) {
			return nil, err
		}
		return nil, retryErr
	}

	return nil, err
}

// executeOnce performs selection, the bounded engine call, and outcome
// reporting for a single attempt. The per-account permit is released
// before returning on every path.
func (d *Dispatcher) executeOnce(ctx context.Context, req engine.Request) (*engine.Artifact, error) {
	lease, err := d.pool.Acquire()
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	logger := d.logger.With("account_id", lease.Account.ID, "model", req.Model)
	logger.Info("dispatching generation", "kind", string(req.Kind))

	artifact, err := d.invokeWithDeadline(ctx, req, &lease.Account)
	if err != nil {
		failure := engine.AsFailure(err)
		d.pool.ReportFailure(lease.Account.ID, failure)
		logger.Warn("generation failed", "failure_kind", string(failure.Kind), "error", failure)
		return nil, failure
	}

	d.pool.ReportSuccess(lease.Account.ID)
	logger.Info("generation succeeded", "artifact", artifact.Path)
	return artifact, nil
}

// invokeWithDeadline runs the engine call in its own goroutine so the
// dispatcher can abandon it when the deadline passes. The derived
// context carries the best-effort cancellation signal; resource release
// never waits for the engine to observe it.
func (d *Dispatcher) invokeWithDeadline(ctx context.Context, req engine.Request, account *domain.Account) (*engine.Artifact, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	type outcome struct {
		artifact *engine.Artifact
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		artifact, err := d.engine.Execute(callCtx, req, account)
		done <- outcome{artifact: artifact, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && callCtx.Err() == context.DeadlineExceeded {
			return nil, engine.NewFailure(engine.FailureTimeout, "engine call exceeded deadline", result.err)
		}
		return result.artifact, result.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Caller went away; classify as timeout so the account is
			// not penalized.
			return nil, engine.NewFailure(engine.FailureTimeout, "request cancelled", ctx.Err())
		}
		return nil, engine.NewFailure(engine.FailureTimeout, "engine call exceeded deadline", callCtx.Err())
	}
}
