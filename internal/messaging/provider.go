package messaging

import (
	"context"
	"errors"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// ErrProviderNotConfigured is returned by a provider that lacks the settings
// to send for a workspace
var ErrProviderNotConfigured = errors.New("message provider not configured")

// Outbound is a rendered message addressed to one recipient
type Outbound struct {
	WorkspaceID string
	UserID      string
	Channel     domain.ChannelType
	TemplateID  string
	To          string
	Subject     string
	Body        string
}

// Provider delivers rendered messages for one channel
type Provider interface {
	Send(ctx context.Context, msg Outbound) error
}
