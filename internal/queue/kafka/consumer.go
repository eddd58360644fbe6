package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// Consumer reads signals from the signal topic with manual commits
type Consumer struct {
	reader *kgo.Reader
	log    *zap.Logger
}

// NewConsumer joins the configured consumer group
func NewConsumer(cfg config.Kafka, log *zap.Logger) (*Consumer, error) {
	brokers := splitCSV(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.SignalTopic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})

	log.Info("Kafka consumer created",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.SignalTopic),
		zap.String("group", cfg.ConsumerGroup))

	return &Consumer{reader: r, log: log}, nil
}

// Fetch blocks until the next signal. commit must be called once the signal
// was handled. Undecodable messages are committed and skipped.
func (c *Consumer) Fetch(ctx context.Context) (domain.Signal, func(context.Context) error, error) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return domain.Signal{}, nil, err
		}

		sig, err := decodeSignal(m)
		if err != nil {
			c.log.Warn("Skipping malformed signal",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				return domain.Signal{}, nil, fmt.Errorf("failed to commit malformed signal: %w", err)
			}
			continue
		}

		commit := func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			return c.reader.CommitMessages(cctx, m)
		}
		return sig, commit, nil
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error { return c.reader.Close() }

func decodeSignal(m kgo.Message) (domain.Signal, error) {
	var sig domain.Signal
	if err := json.Unmarshal(m.Value, &sig); err != nil {
		return domain.Signal{}, fmt.Errorf("failed to unmarshal signal: %w", err)
	}
	if sig.WorkflowID == "" {
		return domain.Signal{}, errMissingWorkflowID
	}
	return sig, nil
}
