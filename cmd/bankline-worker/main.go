package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/bankline-io/bankline-worker/internal/config"
	"github.com/bankline-io/bankline-worker/internal/database"
	"github.com/bankline-io/bankline-worker/internal/logger"
	"github.com/bankline-io/bankline-worker/internal/notify"
	"github.com/bankline-io/bankline-worker/internal/orchestrator"
	"github.com/bankline-io/bankline-worker/internal/provider"
	"github.com/bankline-io/bankline-worker/internal/repository"
	"github.com/bankline-io/bankline-worker/internal/routing"
	"github.com/bankline-io/bankline-worker/internal/scheduler"
	"github.com/bankline-io/bankline-worker/internal/server"
)

func main() {
	log := logger.New()
	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Application error")
	}
}

func run(log zerolog.Logger) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Run migrations against the primary
	log.Info().Msg("Running database migrations...")
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	log.Info().Msg("Migrations completed successfully")

	// Connect to primary and, when configured, the replica
	handles, err := database.Open(cfg.DatabaseURL, cfg.ReplicaDatabaseURL)
	if err != nil {
		return err
	}
	defer handles.Close()

	log.Info().Bool("replica", handles.Replica != nil).Msg("Database connected successfully")

	// The consistency router owns the mutation marker cache; everything that
	// touches the database goes through it.
	router := routing.New(handles, cfg.ReadYourWritesWindow, cfg.MutationCacheSize)

	// Initialize repositories
	connRepo := repository.NewConnectionRepository(router)
	accountRepo := repository.NewAccountRepository(router)
	txnRepo := repository.NewTransactionRepository(router)
	jobRepo := repository.NewSyncJobRepository(router)

	// Initialize the provider registry and validate it against every
	// persisted connection; an unregistered kind is fatal at startup.
	registry := provider.NewRegistry(
		provider.NewSandbank(),
		provider.NewFincore(cfg.FincoreClientID, cfg.FincoreClientSecret),
		provider.NewBrightfin(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kinds, err := connRepo.DistinctProviderKinds(ctx)
	if err != nil {
		return err
	}
	if err := registry.Validate(kinds); err != nil {
		return err
	}

	// Downstream notification emitter
	var emitter notify.Emitter = notify.NopEmitter{}
	if cfg.NotifyURL != "" {
		emitter = notify.NewHTTPEmitter(cfg.NotifyURL)
	}

	// Initialize the orchestrator, scheduler, and trigger server
	orch := orchestrator.New(cfg, registry, connRepo, accountRepo, txnRepo, jobRepo, emitter, log)
	sched := scheduler.New(cfg.ScheduleInterval, connRepo, orch, log)
	srv := server.New(connRepo, txnRepo, orch, registry, cfg.WebhookSecrets, log)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 3)
	go func() {
		errChan <- orch.Start(ctx)
	}()
	go func() {
		errChan <- sched.Start(ctx)
	}()
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Info().Msg("Shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown error")
		}

		// Let in-flight jobs finish or park themselves for the next run.
		select {
		case <-shutdownCtx.Done():
			log.Warn().Msg("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Worker error during shutdown")
			}
		}

		log.Info().Msg("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
