// Package ses delivers email messages through Amazon SES.
package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	envConfig "github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/messaging"
	"github.com/BarkinBalci/engagement-engine/internal/secrets"
)

// SecretName is the workspace secret holding the sender address
const SecretName = "email"

// SecretGetter reads workspace secrets
type SecretGetter interface {
	Get(ctx context.Context, workspaceID, name string) (*secrets.Secret, error)
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends email through SES. The sender address comes from the
// workspace's email secret, falling back to the configured default.
type Provider struct {
	client      sesAPI
	secrets     SecretGetter
	defaultFrom string
	log         *zap.Logger
}

// NewProvider creates an SES email provider. secrets may be nil.
func NewProvider(ctx context.Context, cfg envConfig.SES, secrets SecretGetter, log *zap.Logger) (*Provider, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	var clientOpts []func(*sesv2.Options)

	// Configure for local development against an SES emulator
	if cfg.Endpoint != "" {
		log.Info("Configuring SES for local development",
			zap.String("endpoint", cfg.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sesv2.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SES provider created", zap.String("region", cfg.Region))
	return newProvider(sesv2.NewFromConfig(awsCfg, clientOpts...), secrets, cfg.FromEmail, log), nil
}

func newProvider(client sesAPI, secrets SecretGetter, defaultFrom string, log *zap.Logger) *Provider {
	return &Provider{
		client:      client,
		secrets:     secrets,
		defaultFrom: defaultFrom,
		log:         log,
	}
}

// Send delivers one email
func (p *Provider) Send(ctx context.Context, msg messaging.Outbound) error {
	from, err := p.sender(ctx, msg.WorkspaceID)
	if err != nil {
		return err
	}

	_, err = p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	})
	if err != nil {
		p.log.Error("Failed to send email",
			zap.String("workspace_id", msg.WorkspaceID),
			zap.String("user_id", msg.UserID),
			zap.String("template_id", msg.TemplateID),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (p *Provider) sender(ctx context.Context, workspaceID string) (string, error) {
	if p.secrets != nil {
		secret, err := p.secrets.Get(ctx, workspaceID, SecretName)
		switch {
		case errors.Is(err, secrets.ErrSecretNotFound):
		case err != nil:
			return "", err
		case secret.Value != "":
			return secret.Value, nil
		}
	}
	if p.defaultFrom == "" {
		return "", fmt.Errorf("%w: no sender address for workspace %s", messaging.ErrProviderNotConfigured, workspaceID)
	}
	return p.defaultFrom, nil
}
