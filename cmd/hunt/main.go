package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"threathunt/internal/app"
	"threathunt/internal/config"
	"threathunt/internal/logging"
)

func main() {
	logger := logging.Init("hunt")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	res, runErr := a.Pipeline.Run(ctx)
	cancel()

	if err := a.Close(); err != nil {
		logger.Warn("shutdown", "err", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("done", "record", res.Run.RecordPath, "status", res.Run.Status)
}
