package consumer

import (
	"context"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// MessageParser defines the interface for parsing raw message bytes into events
type MessageParser interface {
	Parse(body []byte) (*domain.Event, error)
}

// EventRouter is notified of every batch after it was durably inserted
type EventRouter interface {
	Route(ctx context.Context, events []*domain.Event) error
}
