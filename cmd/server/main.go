package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/listing-harvester/internal/api"
	"github.com/maltedev/listing-harvester/internal/app"
	"github.com/maltedev/listing-harvester/internal/browser"
	"github.com/maltedev/listing-harvester/internal/config"
	"github.com/maltedev/listing-harvester/internal/database"
	"github.com/maltedev/listing-harvester/internal/events"
	"github.com/maltedev/listing-harvester/internal/jobs"
	"github.com/maltedev/listing-harvester/internal/queue"
	"github.com/maltedev/listing-harvester/internal/storage"
	"github.com/maltedev/listing-harvester/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := browser.New(app.BrowserOptions(cfg.Browser), logger)
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		return 1
	}
	defer b.Close()

	runs, err := storage.NewRunIndex(cfg.Harvest.RunIndexFile)
	if err != nil {
		logger.Error("failed to load run index", "error", err)
		return 1
	}

	var (
		sinks  []jobs.Sink
		outbox api.OutboxStatus
	)

	if cfg.Database.Enabled {
		db, err := database.New(ctx, app.DatabaseConfig(cfg.Database))
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return 1
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			return 1
		}

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			return 1
		}

		relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, app.RelayConfig(cfg.Relay))
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()

		sinks = append(sinks, jobs.NewDatabaseSink(db, events.NewPublisher(db, logger)))
		outbox = relay
	} else {
		logger.Info("database disabled, results are kept on disk only")
	}

	taskQueue := queue.NewInMemoryQueue(cfg.Harvest.QueueSize)
	defer taskQueue.Close()

	runner := jobs.NewSessionRunner(b, app.HarvestConfig(cfg.Harvest), cfg.Harvest.PaceMin, cfg.Harvest.PaceMax, logger)
	jobManager := jobs.NewManager(runs, taskQueue, runner, storage.NewWriter(cfg.Harvest.OutputDir, logger), logger, sinks...)
	jobManager.Resume()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		jobManager.StartWorker(ctx)
	}()

	handlers := api.NewHandlers(jobManager, outbox, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	code := 0
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		code = 1
	}

	// The running job records its partial result before the browser closes.
	cancel()
	select {
	case <-workerDone:
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("worker did not stop in time", "timeout", cfg.Server.ShutdownTimeout)
	}

	logger.Info("server stopped")
	return code
}
