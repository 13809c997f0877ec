package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/TTAWDTT/MercuryDesk-sub000/internal/config"
	"github.com/TTAWDTT/MercuryDesk-sub000/internal/connector"
	"github.com/TTAWDTT/MercuryDesk-sub000/internal/scheduler"
	"github.com/TTAWDTT/MercuryDesk-sub000/internal/store"
	"github.com/TTAWDTT/MercuryDesk-sub000/internal/syncer"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mercurydesk sync daemon")

	// Connect to database
	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create components
	registry := connector.NewRegistry(logger, connector.Options{
		Timeout:  cfg.FetchTimeout,
		MaxItems: cfg.SyncMaxItems,
	})
	engine := syncer.New(db, registry, logger)

	schedOpts := []scheduler.Option{
		scheduler.WithRetention(cfg.JobRetention),
	}
	if cfg.InlineJobs {
		schedOpts = append(schedOpts, scheduler.WithInlineExecution())
	}
	sched := scheduler.New(engine, cfg.WorkerPoolSize, logger, schedOpts...)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Poll loop: enqueue a sync job for every active pollable account
	logger.Info("sync daemon is running, press Ctrl+C to stop",
		"poll_interval", cfg.PollInterval, "workers", cfg.WorkerPoolSize)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	enqueueAll(ctx, db, sched, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("sync daemon stopped")
			return
		case <-ticker.C:
			enqueueAll(ctx, db, sched, logger)
		}
	}
}

func enqueueAll(ctx context.Context, db *store.DB, sched *scheduler.Scheduler, logger *slog.Logger) {
	accounts, err := db.GetAllActiveAccounts(ctx)
	if err != nil {
		logger.Error("failed to list active accounts", "error", err)
		return
	}

	for _, account := range accounts {
		if !account.Provider.Pollable() {
			continue
		}
		job := sched.Enqueue(account.UserID, account, false)
		logger.Debug("enqueued sync job",
			"job_id", job.ID, "account_id", account.ID, "provider", account.Provider)
	}
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
