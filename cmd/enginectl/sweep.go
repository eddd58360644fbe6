package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/computedproperty"
	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/logger"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/queue/kafka"
	"github.com/BarkinBalci/engagement-engine/internal/repository/clickhouse"
	"github.com/BarkinBalci/engagement-engine/internal/repository/relational"
)

func newSweepCmd() *cobra.Command {
	var (
		workspaceID string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one computed property sweep",
		Long: `sweep runs ComputeState, WriteAssignments and ProcessAssignments once for a
workspace, or for every workspace when --workspace is omitted. Connection
settings are read from the environment like the sweeper service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Service.Environment, cfg.Service.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
			if err != nil {
				return fmt.Errorf("failed to create ClickHouse client: %w", err)
			}
			analytics := clickhouse.NewRepository(chClient, log)
			defer func() { _ = analytics.Close() }()

			db, err := relational.Connect(&cfg.Database, log)
			if err != nil {
				return fmt.Errorf("failed to connect to relational store: %w", err)
			}
			store := relational.NewRepository(db, log)
			defer func() { _ = store.Close() }()

			producer, err := kafka.NewProducer(cfg.Kafka, log)
			if err != nil {
				return fmt.Errorf("failed to create signal producer: %w", err)
			}
			defer func() { _ = producer.Close() }()

			sweeper := computedproperty.NewSweeper(analytics, store, store, store, producer, metrics.NewNop(),
				computedproperty.Config{Concurrency: cfg.Sweeper.Concurrency}, log)

			started := time.Now()
			if workspaceID == "" {
				err = sweeper.SweepAll(ctx)
			} else {
				err = sweeper.Sweep(ctx, workspaceID)
			}
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			log.Info("Sweep completed",
				zap.String("workspace_id", workspaceID),
				zap.Duration("duration", time.Since(started)))
			return printResult(cmd, map[string]any{
				"workspace":  workspaceID,
				"durationMs": time.Since(started).Milliseconds(),
			}, "sweep completed")
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace to sweep (default: all workspaces)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "maximum sweep duration")

	return cmd
}
