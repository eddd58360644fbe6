package journey

import (
	"context"
	"errors"
	"time"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// ErrInstanceConflict is returned when an instance kept changing underneath a
// signal after all retries.
var ErrInstanceConflict = errors.New("journey instance conflict")

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock
func SystemClock() Clock { return systemClock{} }

// MessageSender sends a message node's message and records its outcome
type MessageSender interface {
	Send(ctx context.Context, req domain.MessageRequest) domain.MessageResult
}

// SignalClaimer is a fast-path duplicate filter for signal ids. A signal is
// recorded only after it was applied, so an interrupted signal is never
// filtered on redelivery.
type SignalClaimer interface {
	// Seen reports whether the signal was already applied
	Seen(ctx context.Context, signalID string) (bool, error)

	// Record marks the signal as applied
	Record(ctx context.Context, signalID string) error
}

// SignalPublisher delivers signals to instances
type SignalPublisher interface {
	Publish(ctx context.Context, signals ...domain.Signal) error
}

// SignalSource yields signals in per-instance order. commit acknowledges the
// signal and must only be called after it was handled.
type SignalSource interface {
	Fetch(ctx context.Context) (domain.Signal, func(context.Context) error, error)
}

// IntegrationHandler receives computed property changes for integrations
type IntegrationHandler interface {
	HandleIntegration(ctx context.Context, signal domain.Signal) error
}
