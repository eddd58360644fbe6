package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/handler"
	"github.com/BarkinBalci/engagement-engine/internal/logger"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/queue/sqs"
	"github.com/BarkinBalci/engagement-engine/internal/repository/clickhouse"
	"github.com/BarkinBalci/engagement-engine/internal/service"
)

// @title Engagement Engine Ingest API
// @version 1.0
// @description API for ingesting user events and reading computed property assignments
// @host localhost:8080
// @BasePath /
// @schemes http https
func main() {
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

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	// Initialize ClickHouse client
	clickhouseClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	repo := clickhouse.NewRepository(clickhouseClient, log)
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	m := metrics.NewProcess()

	eventService := service.NewEventService(sqsClient, repo, log)
	h := handler.NewHandler(eventService, m, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Service.APIPort,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("API server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down API server", zap.Error(err))
	}
}
