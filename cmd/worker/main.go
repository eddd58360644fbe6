package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/health"
	"github.com/BarkinBalci/engagement-engine/internal/idempotency"
	"github.com/BarkinBalci/engagement-engine/internal/integration"
	"github.com/BarkinBalci/engagement-engine/internal/journey"
	"github.com/BarkinBalci/engagement-engine/internal/logger"
	"github.com/BarkinBalci/engagement-engine/internal/messaging"
	"github.com/BarkinBalci/engagement-engine/internal/messaging/ses"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/queue/kafka"
	"github.com/BarkinBalci/engagement-engine/internal/repository/clickhouse"
	"github.com/BarkinBalci/engagement-engine/internal/repository/relational"
	"github.com/BarkinBalci/engagement-engine/internal/secrets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Service.Environment, cfg.Service.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	log.Info("Starting journey worker",
		zap.String("environment", cfg.Service.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := relational.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to relational store", zap.Error(err))
	}
	store := relational.NewRepository(db, log)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close relational store", zap.Error(err))
		}
	}()

	// Delivery history is written back into the event table
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	events := clickhouse.NewRepository(chClient, log)
	defer func() {
		if err := events.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	secretStore, err := secrets.NewStore(ctx, cfg.Secrets, log)
	if err != nil {
		log.Fatal("Failed to create secret store", zap.Error(err))
	}

	providers := map[domain.ChannelType]messaging.Provider{}
	emailProvider, err := ses.NewProvider(ctx, cfg.SES, secretStore, log)
	if err != nil {
		log.Fatal("Failed to create email provider", zap.Error(err))
	}
	providers[domain.ChannelEmail] = emailProvider

	sender := messaging.NewService(store, store, events, providers, log)

	var claims journey.SignalClaimer
	checks := map[string]health.Check{
		"clickhouse": events.Ping,
		"database":   store.Ping,
	}
	if cfg.Valkey.IdempotencyEnabled {
		claimer, err := idempotency.NewClaimer(ctx, cfg.Valkey, log)
		if err != nil {
			if !cfg.Valkey.IdempotencyFailOpen {
				log.Fatal("Failed to create signal claimer", zap.Error(err))
			}
			log.Warn("Valkey unavailable, running without signal claims", zap.Error(err))
		} else {
			claims = claimer
			checks["valkey"] = claimer.Ping
			defer func() {
				if err := claimer.Close(); err != nil {
					log.Error("Failed to close signal claimer", zap.Error(err))
				}
			}()
		}
	}

	source, err := kafka.NewConsumer(cfg.Kafka, log)
	if err != nil {
		log.Fatal("Failed to create signal consumer", zap.Error(err))
	}
	defer func() {
		if err := source.Close(); err != nil {
			log.Error("Failed to close signal consumer", zap.Error(err))
		}
	}()

	m := metrics.NewProcess()
	runtime := journey.NewRuntime(store, store, store, sender, claims, nil, m, log)
	worker := journey.NewWorker(runtime, source, integration.NewHandler(m, log), journey.WorkerConfig{
		TimerPollInterval: time.Duration(cfg.Worker.TimerPollSec) * time.Second,
		TimerBatchSize:    cfg.Worker.TimerBatchSize,
	}, log)

	go health.Serve(ctx, ":"+cfg.Worker.HealthCheckPort, m, checks, log)

	worker.Start(ctx)
	log.Info("Journey worker stopped")
}
