package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/tank-monitor-service/internal/adapter/clickhouse"
	httpadapter "github.com/couchcryptid/tank-monitor-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/tank-monitor-service/internal/adapter/kafka"
	"github.com/couchcryptid/tank-monitor-service/internal/adapter/mqtt"
	"github.com/couchcryptid/tank-monitor-service/internal/adapter/postgres"
	"github.com/couchcryptid/tank-monitor-service/internal/config"
	"github.com/couchcryptid/tank-monitor-service/internal/monitor"
	"github.com/couchcryptid/tank-monitor-service/internal/observability"
	"github.com/couchcryptid/tank-monitor-service/internal/pipeline"
)

// source is a sensor reading extractor the service owns.
type source interface {
	pipeline.BatchExtractor
	io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// State store: Postgres when configured, process memory otherwise.
	var store monitor.StateStore = monitor.NewMemoryStore()
	var pool *postgres.Pool
	if cfg.PostgresDSN != "" {
		pool, err = postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Error("failed to migrate postgres", "error", err)
			os.Exit(1)
		}
		store = postgres.NewStateStore(pool)
		logger.Info("postgres state store enabled")
	} else {
		logger.Warn("POSTGRES_DSN not set; tank state is kept in memory only")
	}

	// Observation history (feature-flagged via CLICKHOUSE_DSN).
	var observations *clickhouse.ObservationStore
	if cfg.ClickHouseDSN != "" {
		conn, err := clickhouse.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			logger.Error("failed to connect to clickhouse", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		if err := clickhouse.Migrate(ctx, conn); err != nil {
			logger.Error("failed to migrate clickhouse", "error", err)
			os.Exit(1)
		}
		observations = clickhouse.NewObservationStore(conn)
		logger.Info("clickhouse observation history enabled")
	}

	coordinators := make([]*monitor.Coordinator, 0, len(cfg.Tanks))
	for _, tank := range cfg.Tanks {
		opts := []monitor.Option{
			monitor.WithLogger(logger),
			monitor.WithMetrics(metrics),
			monitor.WithStateStore(store, cfg.StateSaveDelay),
		}
		if observations != nil {
			opts = append(opts, monitor.WithHistorySource(observations))
		}
		c, err := monitor.NewCoordinator(tank.ID, monitor.SettingsFromConfig(cfg, tank), opts...)
		if err != nil {
			logger.Error("invalid tank settings", "tank_id", tank.ID, "error", err)
			os.Exit(1)
		}
		coordinators = append(coordinators, c)
	}
	fleet, err := monitor.NewFleet(coordinators...)
	if err != nil {
		logger.Error("failed to build fleet", "error", err)
		os.Exit(1)
	}
	if err := fleet.Restore(ctx); err != nil {
		// Tanks that failed to restore start empty.
		logger.Error("restore failed", "error", err)
	}
	logger.Info("monitoring tanks", "tanks", fleet.IDs())

	var src source
	switch cfg.SensorSource {
	case config.SourceMQTT:
		sub := mqtt.NewSubscriber(cfg, logger)
		if err := sub.Connect(ctx); err != nil {
			// The client keeps retrying in the background.
			logger.Warn("mqtt broker not reachable yet", "broker", cfg.MQTTBroker, "error", err)
		}
		src = sub
	default:
		src = kafkaadapter.NewReader(cfg, logger)
	}

	writer := kafkaadapter.NewWriter(cfg, logger)
	hub := httpadapter.NewHub(logger)
	loaders := pipeline.MultiLoader{writer, hub}
	if observations != nil {
		loaders = append(loaders, observations)
	}

	transformer := pipeline.NewTransformer(fleet, metrics)
	p := pipeline.New(src, transformer, loaders, logger, metrics, cfg.BatchSize)

	api := httpadapter.NewAPI(fleet, hub, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, api, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	hub.Close()
	if err := src.Close(); err != nil {
		logger.Error("sensor source close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := fleet.Flush(shutdownCtx); err != nil {
		logger.Error("final state flush failed", "error", err)
	}

	logger.Info("shutdown complete")
}
