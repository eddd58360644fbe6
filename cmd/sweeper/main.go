package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/computedproperty"
	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/health"
	"github.com/BarkinBalci/engagement-engine/internal/logger"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/queue/kafka"
	"github.com/BarkinBalci/engagement-engine/internal/repository/clickhouse"
	"github.com/BarkinBalci/engagement-engine/internal/repository/relational"
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

	log.Info("Starting sweeper service",
		zap.String("environment", cfg.Service.Environment),
		zap.Int("interval_sec", cfg.Sweeper.IntervalSec),
		zap.Int("concurrency", cfg.Sweeper.Concurrency))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	analytics := clickhouse.NewRepository(chClient, log)
	defer func() {
		if err := analytics.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()
	if err := analytics.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}

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

	producer, err := kafka.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Fatal("Failed to create signal producer", zap.Error(err))
	}
	defer func() {
		if err := producer.Close(); err != nil {
			log.Error("Failed to close signal producer", zap.Error(err))
		}
	}()

	m := metrics.NewProcess()
	sweeper := computedproperty.NewSweeper(analytics, store, store, store, producer, m, computedproperty.Config{
		Concurrency: cfg.Sweeper.Concurrency,
		Interval:    time.Duration(cfg.Sweeper.IntervalSec) * time.Second,
	}, log)

	go health.Serve(ctx, ":"+cfg.Sweeper.HealthCheckPort, m, map[string]health.Check{
		"clickhouse": analytics.Ping,
		"database":   store.Ping,
	}, log)

	sweeper.Start(ctx)
	log.Info("Sweeper service stopped")
}
