package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// BatchWriter handles batching and writing events to the repository
type BatchWriter struct {
	repository repository.EventRepository
	router     EventRouter
	metrics    *metrics.Metrics
	config     BatchWriterConfig
	log        *zap.Logger
}

// NewBatchWriter creates a new batch writer. router may be nil.
func NewBatchWriter(repo repository.EventRepository, router EventRouter, m *metrics.Metrics, config BatchWriterConfig, log *zap.Logger) *BatchWriter {
	return &BatchWriter{
		repository: repo,
		router:     router,
		metrics:    m,
		config:     config,
		log:        log,
	}
}

// Start begins processing envelopes, batching, and writing to the repository
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			if len(batch) > 0 {
				w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))
				w.processBatch(context.WithoutCancel(ctx), batch)
			}
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				if len(batch) > 0 {
					w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))
					w.processBatch(ctx, batch)
				}
				return
			}

			batch = append(batch, envelope)

			if len(batch) >= w.config.MaxBatchSize {
				w.log.Debug("Batch size threshold reached", zap.Int("batch_size", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.log.Debug("Batch timeout reached", zap.Int("envelope_count", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
			}
		}
	}
}

// processBatch inserts the batch, routes it to keyed journeys and only then
// acks. Any failure nacks the whole batch. Reinserted events do not change
// computed values since state counts distinct message ids, and routed signals
// carry deterministic ids.
func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope) {
	if len(envelopes) == 0 {
		return
	}

	events := make([]*domain.Event, len(envelopes))
	for i, env := range envelopes {
		events[i] = env.Event
	}

	insertedCount, err := w.repository.InsertBatch(ctx, events)

	if err != nil {
		w.log.Error("Failed to insert batch",
			zap.Error(err),
			zap.Int("event_count", len(events)))
		w.nackAll(ctx, envelopes)
		return
	}

	if insertedCount != len(events) {
		w.log.Warn("Partial insert success",
			zap.Int("inserted", insertedCount),
			zap.Int("expected", len(events)))
		w.nackAll(ctx, envelopes)
		return
	}

	if w.router != nil {
		if err := w.router.Route(ctx, events); err != nil {
			w.log.Error("Failed to route events to journeys",
				zap.Error(err),
				zap.Int("event_count", len(events)))
			w.nackAll(ctx, envelopes)
			return
		}
	}

	w.metrics.EventsIngested.Add(float64(insertedCount))
	w.log.Info("Successfully inserted events",
		zap.Int("count", insertedCount))
	w.ackAll(ctx, envelopes)
}

// ackAll acknowledges all envelopes (deletes from SQS)
func (w *BatchWriter) ackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to ack envelope", zap.Error(err))
		}
	}
}

// nackAll negatively acknowledges all envelopes (makes them visible in SQS again)
func (w *BatchWriter) nackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Nack(ctx); err != nil {
			w.log.Error("Failed to nack envelope", zap.Error(err))
		}
	}
}
