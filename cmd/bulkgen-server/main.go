// Package main provides the bulkgen job server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/bulkgen/internal/config"
	"github.com/raphaelgruber/bulkgen/internal/db"
	"github.com/raphaelgruber/bulkgen/internal/llm"
	"github.com/raphaelgruber/bulkgen/internal/metrics"
	"github.com/raphaelgruber/bulkgen/internal/server"
	"github.com/raphaelgruber/bulkgen/internal/service"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	slog.Info("starting bulkgen-server", "port", cfg.ServerPort)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		cancel()
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := dbClient.InitSchema(ctx); err != nil {
		cancel()
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("BULKGEN_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			cancel()
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		slog.Warn("wiped all data on startup")
	}
	cancel()

	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	model, err := llm.NewModel(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize model", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	runner := service.NewRunner(dbClient, model, cfg.Concurrency)
	runner.Metrics = collector
	srv := server.New(dbClient, runner, collector, logger)
	runner.Notify = srv.NotifyJob

	// Jobs interrupted by the last shutdown pick up where they stopped.
	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := runner.ResumeIncompleteJobs(resumeCtx); err != nil {
		slog.Warn("failed to resume incomplete jobs", "error", err)
	}
	resumeCancel()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(runCtx, cfg.ServerPort); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("waiting for active jobs to stop")
	runner.Shutdown()
	slog.Info("server stopped")
}
