package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/dto"
)

// Client represents an SQS client
type Client struct {
	client *sqs.Client
	config envConfig.SQS
	log    *zap.Logger
}

// NewClient creates a new SQS client
func NewClient(ctx context.Context, SQSConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(SQSConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if SQSConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", SQSConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(SQSConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(cfg, clientOpts...)

	log.Info("SQS client created",
		zap.String("region", SQSConfig.Region),
		zap.String("queue_url", SQSConfig.QueueURL))

	return &Client{
		client: sqsClient,
		config: SQSConfig,
		log:    log,
	}, nil
}

// ReceiveMessages receives messages from SQS
func (c *Client) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return c.client.ReceiveMessage(ctx, input)
}

// DeleteMessage deletes a message from SQS
func (c *Client) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return c.client.DeleteMessage(ctx, input)
}

// ChangeMessageVisibility shortens or extends how long a received message stays hidden
func (c *Client) ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error) {
	return c.client.ChangeMessageVisibility(ctx, input)
}

// QueueDepth returns the approximate number of visible messages. The
// consumer health check uses it to verify the queue is reachable.
func (c *Client) QueueDepth(ctx context.Context) (int, error) {
	out, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get queue attributes: %w", err)
	}
	depth, err := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	if err != nil {
		return 0, fmt.Errorf("failed to parse queue depth: %w", err)
	}
	return depth, nil
}

// QueueURL returns the configured queue URL
func (c *Client) QueueURL() string {
	return c.config.QueueURL
}

// PublishEvent publishes an event to SQS
func (c *Client) PublishEvent(ctx context.Context, message *dto.EventMessage) error {
	bodyJSON, err := json.Marshal(message)
	if err != nil {
		c.log.Error("Failed to marshal event",
			zap.String("message_id", message.MessageID),
			zap.String("workspace_id", message.WorkspaceID),
			zap.Error(err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.config.QueueURL),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"WorkspaceId": {
				DataType:    aws.String("String"),
				StringValue: aws.String(message.WorkspaceID),
			},
			"EventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(message.Type),
			},
		},
	})
	if err != nil {
		c.log.Error("Failed to send message to SQS",
			zap.String("message_id", message.MessageID),
			zap.String("workspace_id", message.WorkspaceID),
			zap.Error(err))
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	c.log.Debug("Event published to SQS",
		zap.String("message_id", message.MessageID),
		zap.String("type", message.Type))

	return nil
}
