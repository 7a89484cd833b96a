// Package main provides the entry point for the paper analysis service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/paperstack/analysis-service/internal/batch"
	"github.com/paperstack/analysis-service/internal/budget"
	"github.com/paperstack/analysis-service/internal/config"
	"github.com/paperstack/analysis-service/internal/database"
	"github.com/paperstack/analysis-service/internal/observability"
	"github.com/paperstack/analysis-service/internal/outcome"
	"github.com/paperstack/analysis-service/internal/queue"
	"github.com/paperstack/analysis-service/internal/repository"
	httpserver "github.com/paperstack/analysis-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("analysis-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Create repositories.
	batchRepo := repository.NewPgBatchRepository(db)
	jobRepo := repository.NewPgJobRepository(db)
	paperRepo := repository.NewPgPaperRepository(db)
	budgetRepo := repository.NewPgBudgetRepository(db)

	// Connect to the Redis work queue.
	workQueue, err := queue.NewRedisQueue(ctx, queue.Config{
		URL:       cfg.Queue.URL,
		Password:  cfg.Queue.Password,
		Stream:    cfg.Queue.Stream,
		DedupeTTL: cfg.Queue.DedupeTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to work queue: %w", err)
	}
	defer func() {
		if closeErr := workQueue.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close work queue")
		}
	}()
	logger.Info().Str("stream", cfg.Queue.Stream).Msg("work queue connected")

	// Assemble the orchestration layer.
	metrics := observability.NewMetrics("analysis")
	guard := budget.NewGuard(budgetRepo, jobRepo, metrics, logger)
	limiter := rate.NewLimiter(rate.Limit(cfg.Queue.EnqueueRate), cfg.Queue.EnqueueBurst)
	dispatcher := batch.NewDispatcher(jobRepo, workQueue, guard, limiter, metrics, logger)
	manager := batch.NewManager(batchRepo, paperRepo, dispatcher, guard, workQueue, cfg.Batch, metrics, logger)
	aggregator := batch.NewAggregator(batchRepo, jobRepo, paperRepo, guard, workQueue, logger)

	// Create the admin HTTP server.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AdminToken:      cfg.Admin.Token,
	}
	httpSrv := httpserver.NewServer(httpCfg, manager, aggregator, guard, db, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Create the Kafka outcome listener if configured.
	var listener *outcome.Listener
	if cfg.Outcomes.Enabled {
		listener = outcome.NewListener(outcome.Config{
			Brokers: cfg.Outcomes.Brokers,
			Topic:   cfg.Outcomes.Topic,
			GroupID: cfg.Outcomes.GroupID,
		}, dispatcher, metrics, logger)
		defer func() {
			if closeErr := listener.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close outcome listener")
			}
		}()
	}

	// Channel to collect server errors.
	errCh := make(chan error, 3)

	// Start admin HTTP server in background.
	go func() {
		logger.Info().Str("address", httpCfg.Address).Msg("admin HTTP server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Start the outcome listener in background.
	if listener != nil {
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outcome listener error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("analysis-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down analysis-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("analysis-service shutdown complete")
	return nil
}
