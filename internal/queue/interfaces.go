package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/BarkinBalci/engagement-engine/internal/dto"
)

// QueuePublisher defines the interface for publishing events to the ingest queue
type QueuePublisher interface {
	PublishEvent(ctx context.Context, message *dto.EventMessage) error
}

// QueueConsumer defines the interface for consuming messages from the ingest queue
type QueueConsumer interface {
	ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error)
	QueueURL() string
}
