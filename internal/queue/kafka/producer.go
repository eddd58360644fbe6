// Package kafka carries journey signals over Kafka. Messages are keyed by
// workflow id so every signal of one instance lands on one partition in
// publish order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

var errMissingWorkflowID = errors.New("signal has no workflow id")

// Producer publishes signals to the signal topic
type Producer struct {
	writer  *kgo.Writer
	timeout time.Duration
	log     *zap.Logger
}

// NewProducer creates a producer for the configured signal topic
func NewProducer(cfg config.Kafka, log *zap.Logger) (*Producer, error) {
	brokers := splitCSV(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.SignalTopic == "" {
		return nil, fmt.Errorf("kafka signal topic is required")
	}

	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        cfg.SignalTopic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireAll,
	}

	timeout := time.Duration(cfg.WriteTimeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	log.Info("Kafka producer created",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.SignalTopic))

	return &Producer{writer: w, timeout: timeout, log: log}, nil
}

// Publish writes the signals in one batch. Either every signal is
// acknowledged or an error is returned and the caller republishes.
func (p *Producer) Publish(ctx context.Context, signals ...domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	msgs := make([]kgo.Message, 0, len(signals))
	for _, sig := range signals {
		m, err := encodeSignal(sig)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(cctx, msgs...); err != nil {
		p.log.Error("Failed to publish signals",
			zap.Int("signal_count", len(signals)),
			zap.Error(err))
		return fmt.Errorf("failed to publish signals: %w", err)
	}

	p.log.Debug("Signals published", zap.Int("signal_count", len(signals)))
	return nil
}

// Close flushes pending writes and closes the writer
func (p *Producer) Close() error { return p.writer.Close() }

func encodeSignal(sig domain.Signal) (kgo.Message, error) {
	if sig.WorkflowID == "" {
		return kgo.Message{}, fmt.Errorf("%w: %s", errMissingWorkflowID, sig.ID)
	}
	b, err := json.Marshal(sig)
	if err != nil {
		return kgo.Message{}, fmt.Errorf("failed to marshal signal: %w", err)
	}
	return kgo.Message{
		Key:   []byte(sig.WorkflowID),
		Value: b,
		Time:  sig.SentAt,
		Headers: []kgo.Header{
			{Key: "signal_type", Value: []byte(sig.Type)},
		},
	}, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
