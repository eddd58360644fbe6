package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/journey"
	"github.com/BarkinBalci/engagement-engine/internal/logger"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/queue/kafka"
	"github.com/BarkinBalci/engagement-engine/internal/repository/relational"
)

var errJourneyNotFound = errors.New("journey not found")

type journeyStore interface {
	GetJourney(ctx context.Context, workspaceID, journeyID string) (*domain.Journey, error)
	UpsertJourney(ctx context.Context, j *domain.Journey) error
	ActiveInstances(ctx context.Context, workspaceID, journeyID string) ([]domain.JourneyInstance, error)
}

// pauseJourney stops new entries into a running journey
func pauseJourney(ctx context.Context, store journeyStore, workspaceID, journeyID string, now time.Time) error {
	j, err := store.GetJourney(ctx, workspaceID, journeyID)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("%w: %s", errJourneyNotFound, journeyID)
	}
	if j.Status != domain.JourneyRunning {
		return nil
	}
	j.Status = domain.JourneyPaused
	j.UpdatedAt = now
	return store.UpsertJourney(ctx, j)
}

// publishCancels sends a cancel signal to every active instance of a journey.
// The worker applies them in order with the instance's other signals.
func publishCancels(ctx context.Context, store journeyStore, publisher journey.SignalPublisher, workspaceID, journeyID string, now time.Time) (int, error) {
	active, err := store.ActiveInstances(ctx, workspaceID, journeyID)
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, nil
	}

	signals := make([]domain.Signal, 0, len(active))
	for _, inst := range active {
		signals = append(signals, domain.CancelSignal(inst.Key, now))
	}
	if err := publisher.Publish(ctx, signals...); err != nil {
		return 0, fmt.Errorf("failed to publish cancel signals: %w", err)
	}
	return len(signals), nil
}

func newCancelJourneyCmd() *cobra.Command {
	var (
		workspaceID string
		journeyID   string
		pause       bool
		direct      bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "cancel-journey",
		Short: "Cancel every active instance of a journey",
		Long: `cancel-journey sends a cancel signal to every running or waiting instance of
a journey through the signal bus. With --pause the journey is paused first so
no new instances start. With --direct the instances are cancelled against the
relational store without going through the worker.`,
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

			db, err := relational.Connect(&cfg.Database, log)
			if err != nil {
				return fmt.Errorf("failed to connect to relational store: %w", err)
			}
			store := relational.NewRepository(db, log)
			defer func() { _ = store.Close() }()

			now := time.Now().UTC()
			if pause {
				if err := pauseJourney(ctx, store, workspaceID, journeyID, now); err != nil {
					return fmt.Errorf("failed to pause journey: %w", err)
				}
			}

			var cancelled int
			if direct {
				runtime := journey.NewRuntime(store, store, store, nil, nil, nil, metrics.NewNop(), log)
				cancelled, err = runtime.CancelJourney(ctx, workspaceID, journeyID)
			} else {
				producer, perr := kafka.NewProducer(cfg.Kafka, log)
				if perr != nil {
					return fmt.Errorf("failed to create signal producer: %w", perr)
				}
				defer func() { _ = producer.Close() }()
				cancelled, err = publishCancels(ctx, store, producer, workspaceID, journeyID, now)
			}
			if err != nil {
				return err
			}

			log.Info("Journey cancellation requested",
				zap.String("workspace_id", workspaceID),
				zap.String("journey_id", journeyID),
				zap.Int("instances", cancelled),
				zap.Bool("direct", direct))
			return printResult(cmd, map[string]any{
				"workspace": workspaceID,
				"journey":   journeyID,
				"cancelled": cancelled,
				"direct":    direct,
			}, fmt.Sprintf("cancelled %d instances of journey %s", cancelled, journeyID))
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace of the journey")
	cmd.Flags().StringVar(&journeyID, "journey", "", "journey to cancel")
	cmd.Flags().BoolVar(&pause, "pause", false, "pause the journey before cancelling its instances")
	cmd.Flags().BoolVar(&direct, "direct", false, "cancel against the relational store instead of publishing signals")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum duration")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("journey")

	return cmd
}
