package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/queue"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// Consumer orchestrates a pipeline of stages to process SQS messages
type Consumer struct {
	receiver    *Receiver
	parser      *ParserStage
	batchWriter *BatchWriter
	bufferSize  int
}

// NewConsumer creates a new consumer with a pipeline architecture. router may
// be nil when no journey routing is wanted.
func NewConsumer(cfg *config.Config, queueConsumer queue.QueueConsumer, repo repository.EventRepository, router EventRouter, m *metrics.Metrics, log *zap.Logger) *Consumer {
	receiverConfig := ReceiverConfig{
		MaxMessages:       10,
		WaitTimeSeconds:   20,
		VisibilityTimeout: int32(cfg.Consumer.VisibilityTimeoutSec),
		BufferSize:        100,
	}
	receiver := NewReceiver(queueConsumer, receiverConfig, log)

	parser := NewParserStage(queueConsumer, NewJSONEventParser(), log)

	batchWriter := NewBatchWriter(repo, router, m, BatchWriterConfig{
		MaxBatchSize: cfg.Consumer.BatchSizeMax,
		FlushTimeout: time.Duration(cfg.Consumer.BatchTimeoutSec) * time.Second,
	}, log)

	return &Consumer{
		receiver:    receiver,
		parser:      parser,
		batchWriter: batchWriter,
		bufferSize:  receiverConfig.BufferSize,
	}
}

// Start begins the consumer pipeline
func (c *Consumer) Start(ctx context.Context) error {
	messageChan := make(chan types.Message, c.bufferSize)
	envelopeChan := make(chan *Envelope, c.bufferSize)

	var wg sync.WaitGroup

	// Start all pipeline stages
	wg.Add(3)

	// Stage 1: Receive messages from SQS
	go func() {
		defer wg.Done()
		c.receiver.Start(ctx, messageChan)
	}()

	// Stage 2: Parse messages into envelopes
	go func() {
		defer wg.Done()
		c.parser.Start(ctx, messageChan, envelopeChan)
	}()

	// Stage 3: Batch and write to the repository
	go func() {
		defer wg.Done()
		c.batchWriter.Start(ctx, envelopeChan)
	}()

	wg.Wait()
	return nil
}
