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

	"threathunt/internal/app"
	"threathunt/internal/config"
	"threathunt/internal/hunt"
	"threathunt/internal/logging"
	"threathunt/internal/server"
)

func main() {
	logger := logging.Init("huntd")

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
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := hunt.NewScheduler(ctx, a.Pipeline, logger)
	if err := sched.Schedule(cfg.Schedule); err != nil {
		logger.Error("schedule", "err", err)
		return
	}
	sched.Start()

	srv := server.New(sched, a.Ledger, a.Recorder, logger)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: server.MetricsHandler(), ReadHeaderTimeout: 10 * time.Second}

	serve := func(name string, s *http.Server) {
		slog.Info("listening", "server", name, "addr", s.Addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "server", name, "err", err)
			cancel()
		}
	}
	go serve("http", httpSrv)
	go serve("metrics", metricsSrv)
	go func() {
		if err := srv.StartGRPC(cfg.GRPCAddr); err != nil {
			slog.Error("grpc server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	sdCtx, sdCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer sdCancel()
	_ = httpSrv.Shutdown(sdCtx)
	_ = metricsSrv.Shutdown(sdCtx)
	srv.Stop()
	if err := sched.Stop(sdCtx); err != nil {
		logger.Warn("scheduler stop", "err", err)
	}
	logger.Info("shutdown complete")
}
