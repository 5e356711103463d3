package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/logpipe/internal/adapter/broker"
	"github.com/V4T54L/logpipe/internal/adapter/metrics"
	"github.com/V4T54L/logpipe/internal/adapter/notifier"
	"github.com/V4T54L/logpipe/internal/adapter/repository/postgres"
	"github.com/V4T54L/logpipe/internal/adapter/sink/console"
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

	if err := run(cfg, log); err != nil {
		log.Error("consumer exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("consumer shut down gracefully")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	alerter := notifier.NewLogNotifier(log)

	// --- Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", "error", err)
		}
	}()

	consumerName := cfg.ConsumerName
	if consumerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Warn("could not get hostname for consumer name, using default", "error", err)
			hostname = "consumer"
		}
		consumerName = hostname + "-" + uuid.NewString()[:8]
	}

	// --- PostgreSQL (persistence sink only) ---
	var db *sql.DB
	if cfg.HasSink(config.SinkPostgres) {
		var err error
		db, err = openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range cfg.ConsumerSinks {
		var (
			sink  domain.LogSink
			group string
		)
		switch name {
		case config.SinkConsole:
			sink, group = console.NewSink(log), cfg.ConsoleGroupID
		case config.SinkPostgres:
			sink = postgres.NewLogRepository(db, log, postgres.RetryConfig{
				MaxAttempts:     cfg.PersistMaxAttempts,
				InitialInterval: cfg.RetryInitialInterval,
				MaxInterval:     cfg.RetryMaxInterval,
			})
			group = cfg.PersistenceGroupID
		default:
			return fmt.Errorf("unknown sink %q", name)
		}

		connect, err := broker.NewReaderFactory(cfg, group, consumerName, log)
		if err != nil {
			return err
		}
		deadLetters, err := broker.NewDeadLetterWriter(cfg, log)
		if err != nil {
			return err
		}
		defer deadLetters.Close()

		worker := usecase.NewConsumerGroupWorker(usecase.WorkerConfig{
			Topic:                 cfg.Topic,
			Group:                 group,
			MaxDeliveries:         cfg.MaxDeliveries,
			MaxConnectAttempts:    cfg.MaxConnectAttempts,
			MaxSinkOutageAttempts: cfg.MaxSinkOutageAttempts,
			RetryInitialInterval:  cfg.RetryInitialInterval,
			RetryMaxInterval:      cfg.RetryMaxInterval,
			HandleTimeout:         cfg.HandleTimeout,
		}, connect, sink, deadLetters, alerter, log.With("sink", name), m)

		g.Go(func() error {
			if err := worker.Run(gctx); err != nil {
				return fmt.Errorf("%s worker: %w", name, err)
			}
			return nil
		})
	}

	log.Info("consumer workers started", "consumer", consumerName, "sinks", cfg.ConsumerSinks, "broker", cfg.BrokerDriver, "topic", cfg.Topic)

	err := g.Wait()
	if err != nil && errors.Is(err, domain.ErrConnection) {
		return fmt.Errorf("broker unreachable: %w", err)
	}
	return err
}

func openDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.PostgresMaxOpenConns)

	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, cfg.HandleTimeout)
		defer cancel()
		if err := postgres.EnsureSchema(migrateCtx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("logs table is ready")
	}
	return db, nil
}
