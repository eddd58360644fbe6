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
	"github.com/BarkinBalci/engagement-engine/internal/consumer"
	"github.com/BarkinBalci/engagement-engine/internal/health"
	"github.com/BarkinBalci/engagement-engine/internal/journey"
	"github.com/BarkinBalci/engagement-engine/internal/logger"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/queue/kafka"
	"github.com/BarkinBalci/engagement-engine/internal/queue/sqs"
	"github.com/BarkinBalci/engagement-engine/internal/repository/clickhouse"
	"github.com/BarkinBalci/engagement-engine/internal/repository/relational"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, cfg.Service.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	if err := cfg.SQS.Validate(); err != nil {
		log.Fatal("Invalid SQS configuration", zap.Error(err))
	}

	log.Info("Starting consumer service",
		zap.String("environment", cfg.Service.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize ClickHouse client
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	repo := clickhouse.NewRepository(chClient, log)
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	// Initialize schema (create tables if not exist)
	if err := repo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Database schema initialized")

	// Relational store holds the journeys events are routed to
	db, err := relational.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to relational store", zap.Error(err))
	}
	resources := relational.NewRepository(db, log)
	defer func() {
		if err := resources.Close(); err != nil {
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

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	m := metrics.NewProcess()
	router := journey.NewEventRouter(resources, producer, nil,
		time.Duration(cfg.Consumer.JourneyRefreshSec)*time.Second, log)

	c := consumer.NewConsumer(cfg, sqsClient, repo, router, m, log)

	go health.Serve(ctx, ":"+cfg.Consumer.HealthCheckPort, m, map[string]health.Check{
		"clickhouse": repo.Ping,
		"database":   resources.Ping,
		"sqs": func(ctx context.Context) error {
			depth, err := sqsClient.QueueDepth(ctx)
			if err != nil {
				return err
			}
			m.QueueDepth.Set(float64(depth))
			return nil
		},
	}, log)

	log.Info("Consumer starting")
	if err := c.Start(ctx); err != nil {
		log.Error("Consumer error", zap.Error(err))
	}

	log.Info("Consumer stopped")
}
