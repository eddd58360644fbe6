// Package integration receives computed property changes addressed to
// integration subscribers.
package integration

import (
	"context"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
)

// Handler accounts for integration changes. Syncing them to the external
// system is the integration's own collaborator.
type Handler struct {
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewHandler creates a new integration handler
func NewHandler(m *metrics.Metrics, log *zap.Logger) *Handler {
	return &Handler{metrics: m, log: log}
}

// HandleIntegration records one delivered change
func (h *Handler) HandleIntegration(ctx context.Context, sig domain.Signal) error {
	fields := []zap.Field{
		zap.String("integration", sig.Integration),
		zap.String("workspace_id", sig.Key.WorkspaceID),
		zap.String("user_id", sig.Key.UserID),
		zap.String("signal_id", sig.ID),
	}
	switch {
	case sig.Segment != nil:
		fields = append(fields,
			zap.String("segment_id", sig.Segment.SegmentID),
			zap.Bool("in_segment", sig.Segment.InSegment))
	case sig.UserProperty != nil:
		fields = append(fields,
			zap.String("user_property_id", sig.UserProperty.UserPropertyID),
			zap.String("value", sig.UserProperty.Value))
	default:
		h.log.Warn("Ignoring integration signal without a change", fields...)
		return nil
	}

	h.metrics.IntegrationChanges.WithLabelValues(sig.Integration).Inc()
	h.log.Info("Integration change received", fields...)
	return nil
}
