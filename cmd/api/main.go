package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lineage/api/internal/app"
	"lineage/api/internal/config"
	"lineage/api/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		logger.Error("failed to create repos dir", "dir", cfg.ReposDir, "error", err)
		os.Exit(1)
	}

	backend, err := app.OpenBackend(ctx, cfg, logger, app.BackendOptions{Migrate: true})
	if err != nil {
		logger.Error("backend startup failed", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	service := app.New(cfg, backend.Resolver, backend.Store, backend.Search, backend.Repos, logger)
	if backend.Cache != nil {
		service.SetCommitCache(backend.Cache)
	}
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("lineage API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
}
