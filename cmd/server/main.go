// Package main implements the entry point for the Mirage server, an
// account-pooling scheduler in front of the Gemini generation API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirageproxy/mirage/internal/api"
	"github.com/mirageproxy/mirage/internal/config"
	"github.com/mirageproxy/mirage/internal/dispatch"
	"github.com/mirageproxy/mirage/internal/platform/gemini"
	"github.com/mirageproxy/mirage/internal/platform/logger"
	"github.com/mirageproxy/mirage/internal/pool"
	"github.com/mirageproxy/mirage/internal/storage"
	"github.com/mirageproxy/mirage/internal/task"
)

// shutdownTimeout bounds how long in-flight HTTP requests may run after
// a termination signal before the listener is torn down.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

// run wires the application together and blocks until shutdown. All
// construction errors surface here so main stays a one-liner.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"accounts_dir", cfg.Pool.AccountsDir)

	accounts, err := pool.LoadAccounts(cfg.Pool.AccountsDir, cfg.Pool.FallbackCredentialsFile, appLogger)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	accountPool, err := pool.New(accounts, pool.Config{
		GlobalLimit:     cfg.Pool.GlobalLimit,
		PerAccountLimit: cfg.Pool.PerAccountLimit,
		Cooldown:        time.Duration(cfg.Pool.CooldownSeconds) * time.Second,
	}, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create account pool: %w", err)
	}
	appLogger.Info("account pool ready",
		"accounts", len(accounts),
		"global_limit", cfg.Pool.GlobalLimit,
		"per_account_limit", cfg.Pool.PerAccountLimit)

	generationEngine := gemini.New(appLogger)

	imageDispatcher := dispatch.New(accountPool, generationEngine, dispatch.Config{
		Timeout:               time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
		RetryOnSessionInvalid: true,
	}, appLogger)
	videoDispatcher := dispatch.New(accountPool, generationEngine, dispatch.Config{
		Timeout:               time.Duration(cfg.Engine.VideoTimeoutSeconds) * time.Second,
		RetryOnSessionInvalid: true,
	}, appLogger)

	artifacts, err := storage.New(cfg.Storage.Dir, cfg.Server.BaseURL, appLogger)
	if err != nil {
		return fmt.Errorf("failed to set up artifact storage: %w", err)
	}

	store, err := task.OpenFileStore(cfg.Tasks.FilePath, appLogger)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			appLogger.Error("failed to close task store", "error", closeErr)
		}
	}()

	runner := task.NewRunner(store, videoDispatcher, artifacts, task.RunnerConfig{
		WorkerCount:         cfg.Tasks.WorkerCount,
		QueueSize:           cfg.Tasks.QueueSize,
		AdmissionRetryDelay: time.Duration(cfg.Tasks.AdmissionRetryDelaySeconds) * time.Second,
	}, appLogger)
	if err := runner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	handler := api.NewHandler(
		imageDispatcher,
		videoDispatcher,
		runner,
		accountPool,
		artifacts,
		cfg.Engine.ImageModel,
		cfg.Engine.VideoModel,
		time.Duration(cfg.Storage.CleanupHours)*time.Hour,
		appLogger,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Auth.APIKey, artifacts.Dir()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("server listening", "addr", server.Addr)
		if listenErr := server.ListenAndServe(); !errors.Is(listenErr, http.ErrServerClosed) {
			serverErr <- listenErr
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		runner.Stop()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		appLogger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("graceful shutdown failed", "error", err)
	}

	// Stop workers after the listener so no new submissions race the
	// drain. Claimed tasks left running are failed as interrupted on the
	// next startup.
	runner.Stop()

	slog.Info("shutdown complete")
	return nil
}
