// Package secrets reads workspace credentials from DynamoDB. The engine never
// writes or rotates them.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	envConfig "github.com/BarkinBalci/engagement-engine/internal/config"
)

// ErrSecretNotFound is returned when a workspace has no secret by that name
var ErrSecretNotFound = errors.New("secret not found")

// Secret is one stored credential. Values holds provider specific fields.
type Secret struct {
	WorkspaceID string            `dynamodbav:"workspace_id"`
	Name        string            `dynamodbav:"name"`
	Value       string            `dynamodbav:"value"`
	Values      map[string]string `dynamodbav:"values,omitempty"`
}

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Store looks secrets up by (workspace_id, name)
type Store struct {
	db    dynamoAPI
	table string
	log   *zap.Logger
}

// NewStore creates a DynamoDB backed secret store
func NewStore(ctx context.Context, cfg envConfig.Secrets, log *zap.Logger) (*Store, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	var clientOpts []func(*dynamodb.Options)

	// Configure for local development with DynamoDB Local
	if cfg.Endpoint != "" {
		log.Info("Configuring DynamoDB for local development",
			zap.String("endpoint", cfg.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("Secret store created",
		zap.String("region", cfg.Region),
		zap.String("table", cfg.Table))

	return newStore(dynamodb.NewFromConfig(awsCfg, clientOpts...), cfg.Table, log), nil
}

func newStore(db dynamoAPI, table string, log *zap.Logger) *Store {
	return &Store{db: db, table: table, log: log}
}

// Get returns ErrSecretNotFound when the item does not exist
func (s *Store) Get(ctx context.Context, workspaceID, name string) (*Secret, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"workspace_id": &types.AttributeValueMemberS{Value: workspaceID},
			"name":         &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrSecretNotFound, workspaceID, name)
	}

	var secret Secret
	if err := attributevalue.UnmarshalMap(out.Item, &secret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secret: %w", err)
	}
	return &secret, nil
}
