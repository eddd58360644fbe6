package integration

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
)

func TestHandler_CountsChanges(t *testing.T) {
	m := metrics.NewNop()
	h := NewHandler(m, zap.NewNop())

	sig := domain.ChangeSignal(domain.ChangedAssignment{
		Assignment: domain.Assignment{
			WorkspaceID:        "ws-1",
			Type:               domain.ComputedPropertyTypeSegment,
			ComputedPropertyID: "seg-1",
			UserID:             "user-1",
			SegmentValue:       true,
			AssignedAt:         time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		ProcessedFor:     "crm",
		ProcessedForType: domain.SubscriberIntegration,
	}, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, h.HandleIntegration(context.Background(), sig))
	require.NoError(t, h.HandleIntegration(context.Background(), domain.Signal{Integration: "crm"}))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.IntegrationChanges.WithLabelValues("crm")))
}
