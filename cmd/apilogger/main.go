// Package main is the entry point for the API log capture server.
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

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"apilogger/config"
	"apilogger/internal/apilog"
	"apilogger/internal/server"
)

func main() {
	// Pretty logs on a terminal, JSON otherwise
	var handler slog.Handler
	if term.IsTerminal(int(os.Stdout.Fd())) {
		handler = tint.NewHandler(os.Stdout, &tint.Options{TimeFormat: time.Kitchen})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	result, err := apilog.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize log pipeline", "error", err)
		os.Exit(1)
	}
	defer result.Close()

	if result.Pipeline.Enabled() {
		slog.Info("log capture enabled",
			"storage_type", cfg.Storage.Type,
			"sink_target", cfg.Logging.SinkTarget,
			"queue_capacity", cfg.Logging.QueueCapacity,
			"flush_interval_seconds", cfg.Logging.FlushInterval,
			"retention_days", cfg.Logging.RetentionDays,
		)
	} else {
		slog.Info("log capture disabled")
	}

	srv := server.New(&server.Config{
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		Pipeline:        result.Pipeline,
		Builder:         result.Builder,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}
