package consumer

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/queue"
)

const (
	initialReceiveBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// ReceiverConfig configures the SQS receiver. A zero VisibilityTimeout keeps
// the queue default.
type ReceiverConfig struct {
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	BufferSize        int
	MaxBackoff        time.Duration
}

// Receiver long-polls the ingest queue and feeds raw messages to the parser
type Receiver struct {
	consumer queue.QueueConsumer
	config   ReceiverConfig
	log      *zap.Logger
}

// NewReceiver creates a new SQS receiver
func NewReceiver(consumer queue.QueueConsumer, config ReceiverConfig, log *zap.Logger) *Receiver {
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaultMaxBackoff
	}
	return &Receiver{
		consumer: consumer,
		config:   config,
		log:      log,
	}
}

// Start receives until ctx is done and closes out on return. Receive errors
// back off exponentially up to MaxBackoff.
func (r *Receiver) Start(ctx context.Context, out chan<- types.Message) {
	defer close(out)

	backoff := initialReceiveBackoff
	for {
		if ctx.Err() != nil {
			r.log.Info("Receiver shutting down")
			return
		}

		result, err := r.consumer.ReceiveMessages(ctx, r.receiveInput())
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info("Receiver shutting down")
				return
			}
			r.log.Error("Error receiving messages from SQS",
				zap.Duration("backoff", backoff),
				zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				r.log.Info("Receiver shutting down")
				return
			}
			backoff = min(backoff*2, r.config.MaxBackoff)
			continue
		}
		backoff = initialReceiveBackoff

		if len(result.Messages) == 0 {
			continue
		}

		r.log.Debug("Received messages from SQS", zap.Int("message_count", len(result.Messages)))

		for _, msg := range result.Messages {
			if n := receiveCount(msg); n > 1 {
				r.log.Debug("Message redelivered",
					zap.String("sqs_message_id", aws.ToString(msg.MessageId)),
					zap.Int("receive_count", n))
			}
			select {
			case <-ctx.Done():
				r.log.Info("Receiver shutting down while sending messages")
				return
			case out <- msg:
			}
		}
	}
}

func (r *Receiver) receiveInput() *awssqs.ReceiveMessageInput {
	return &awssqs.ReceiveMessageInput{
		QueueUrl:              aws.String(r.consumer.QueueURL()),
		MaxNumberOfMessages:   r.config.MaxMessages,
		WaitTimeSeconds:       r.config.WaitTimeSeconds,
		VisibilityTimeout:     r.config.VisibilityTimeout,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}
}

func receiveCount(msg types.Message) int {
	n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		return 0
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
