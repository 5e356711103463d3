package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/logpipe/internal/adapter/api"
	"github.com/V4T54L/logpipe/internal/adapter/api/handler"
	"github.com/V4T54L/logpipe/internal/adapter/broker"
	"github.com/V4T54L/logpipe/internal/adapter/metrics"
	"github.com/V4T54L/logpipe/internal/adapter/repository/wal"
	"github.com/V4T54L/logpipe/internal/domain"
	"github.com/V4T54L/logpipe/internal/pkg/config"
	"github.com/V4T54L/logpipe/internal/pkg/logger"
	"github.com/V4T54L/logpipe/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	log.Debug("loaded configuration", "config", cfg.String())

	m := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Broker Writer ---
	writer, err := broker.NewWriter(cfg, cfg.Topic, log)
	if err != nil {
		log.Error("failed to create broker writer", "error", err)
		os.Exit(1)
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.PublishTimeout)
	if err := writer.Ping(pingCtx); err != nil {
		log.Warn("broker is not reachable yet, publishing will apply the failure policy", "error", err)
	}
	cancelPing()

	// --- WAL (buffer policy only) ---
	var walRepo domain.WALRepository
	if cfg.PublishFailurePolicy == domain.PolicyBuffer {
		w, err := wal.NewWALRepository(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, log)
		if err != nil {
			log.Error("failed to initialize WAL repository", "error", err)
			os.Exit(1)
		}
		defer w.Close()
		walRepo = w
	}

	publisher := usecase.NewPublishLogUseCase(writer, walRepo, usecase.PublisherConfig{
		Topic:                cfg.Topic,
		SendTimeout:          cfg.PublishTimeout,
		MaxAttempts:          cfg.PublishMaxAttempts,
		RetryInitialInterval: cfg.RetryInitialInterval,
		RetryMaxInterval:     cfg.RetryMaxInterval,
		FailurePolicy:        cfg.PublishFailurePolicy,
	}, log, m)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("failed to close broker writer", "error", err)
		}
	}()

	// Broker health check and WAL replay loop
	go publisher.StartRecovery(ctx, cfg.WALReplayInterval)

	// --- API Server ---
	shop := handler.NewShopHandler(handler.NewSeededStore(), publisher, m, log, cfg.PublishFailOpen)
	apiServer := &http.Server{
		Addr:         cfg.APIServerAddr,
		Handler:      api.NewRouter(shop, promhttp.Handler(), log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		log.Info("The API Server is running", "addr", apiServer.Addr, "broker", cfg.BrokerDriver, "topic", cfg.Topic)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutting down api server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("api server shutdown failed", "error", err)
	}

	log.Info("api server shut down gracefully")
}
