// Package main provides the HTTP API server and batch workers for wikibatch.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/app"
	"github.com/raphaelgruber/wikibatch/internal/config"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	workers := flag.Int("workers", -1, "number of batch workers (default $WIKIBATCH_WORKERS)")
	flag.Parse()

	cfg := config.Load()
	closeLogs := config.InitLogging(cfg, "server")
	defer func() { _ = closeLogs() }()

	if *workers >= 0 {
		cfg.Workers = *workers
	}

	slog.Info("starting wikibatch-server", "port", cfg.ServerPort, "workers", cfg.Workers)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(initCtx, cfg)
	cancel()
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			slog.Error("failed to close app", "error", err)
		}
	}()

	// Wipe database if requested (via flag or env var)
	if *wipeDB || os.Getenv("WIKIBATCH_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := a.WipeData(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx, ":"+cfg.ServerPort, cfg.Workers); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
