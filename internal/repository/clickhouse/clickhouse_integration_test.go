//go:build integration

package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

var sweepBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newClickHouseRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	container, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.8",
		tcclickhouse.WithDatabase("engagement_test"),
		tcclickhouse.WithUsername("test"),
		tcclickhouse.WithPassword("test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate clickhouse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	client, err := NewClient(ctx, &config.ClickHouse{
		Host:            host,
		Port:            port.Port(),
		Database:        "engagement_test",
		User:            "test",
		Password:        "test",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 3600,
	}, zap.NewNop())
	require.NoError(t, err)

	repo := NewRepository(client, zap.NewNop())
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.InitSchema(ctx))
	return repo
}

func sweepEvent(messageID string, eventType domain.EventType, event, properties string, offset time.Duration) *domain.Event {
	at := sweepBase.Add(offset)
	return &domain.Event{
		WorkspaceID:    "ws-1",
		MessageID:      messageID,
		EventType:      eventType,
		Event:          event,
		UserID:         "user-1",
		Properties:     properties,
		OccurredAt:     at,
		ProcessingTime: at,
	}
}

// sweepEvents spans two windows split at +30m. m-2 is delivered twice.
func sweepEvents() []*domain.Event {
	return []*domain.Event{
		sweepEvent("m-1", domain.EventTypeTrack, "PURCHASE", `{"amount": 10}`, 5*time.Minute),
		sweepEvent("m-2", domain.EventTypeTrack, "PURCHASE", `{"amount": 20}`, 10*time.Minute),
		sweepEvent("m-2", domain.EventTypeTrack, "PURCHASE", `{"amount": 20}`, 10*time.Minute),
		sweepEvent("i-1", domain.EventTypeIdentify, "", `{"plan": "free"}`, 15*time.Minute),
		sweepEvent("m-3", domain.EventTypeTrack, "PURCHASE", `{"amount": 30}`, 40*time.Minute),
		sweepEvent("i-2", domain.EventTypeIdentify, "", `{"plan": "pro"}`, 45*time.Minute),
	}
}

func sweepTargets(propertyID string) []repository.StateTarget {
	return []repository.StateTarget{
		{
			Type:               domain.ComputedPropertyTypeSegment,
			ComputedPropertyID: propertyID,
			StateID:            "purchases",
			SegmentNode:        domain.PerformedSegmentNode{ID: "purchases", Event: "PURCHASE", Times: 1, TimesOperator: domain.TimesGreaterThanOrEqual},
		},
		{
			Type:               domain.ComputedPropertyTypeSegment,
			ComputedPropertyID: propertyID,
			StateID:            "plan",
			SegmentNode:        domain.TraitSegmentNode{ID: "plan", Path: "plan", Operator: domain.Operator{Type: domain.OperatorEquals, Value: "pro"}},
		},
	}
}

func mergedStates(t *testing.T, repo *Repository, propertyID string, to time.Time) map[string]domain.ComputedPropertyState {
	t.Helper()
	states, err := repo.FindUpdatedStates(context.Background(), repository.UpdatedStateQuery{
		WorkspaceID:        "ws-1",
		Type:               domain.ComputedPropertyTypeSegment,
		ComputedPropertyID: propertyID,
		StateIDs:           []string{"purchases", "plan"},
		Since:              sweepBase.Add(-time.Hour),
		To:                 to,
	})
	require.NoError(t, err)

	byID := make(map[string]domain.ComputedPropertyState, len(states))
	for _, s := range states {
		assert.Equal(t, "user-1", s.UserID)
		byID[s.StateID] = s
	}
	return byID
}

func TestClickHouse_SplitWindowsMatchFullWindow(t *testing.T) {
	repo := newClickHouseRepository(t)
	ctx := context.Background()

	_, err := repo.InsertBatch(ctx, sweepEvents())
	require.NoError(t, err)

	mid := sweepBase.Add(30 * time.Minute)
	end := sweepBase.Add(time.Hour)

	require.NoError(t, repo.ComputeState(ctx, "ws-1", sweepTargets("seg-split"), repository.StateWindow{To: mid}))
	require.NoError(t, repo.ComputeState(ctx, "ws-1", sweepTargets("seg-split"), repository.StateWindow{From: mid, To: end}))
	require.NoError(t, repo.ComputeState(ctx, "ws-1", sweepTargets("seg-full"), repository.StateWindow{To: end}))

	split := mergedStates(t, repo, "seg-split", end)
	full := mergedStates(t, repo, "seg-full", end)

	require.Len(t, split, 2)
	require.Len(t, full, 2)
	assert.Equal(t, full, split)

	assert.Equal(t, uint64(3), full["purchases"].UniqueCount)
	assert.True(t, sweepBase.Add(40*time.Minute).Equal(full["purchases"].MaxEventTime))
	assert.Equal(t, `"pro"`, full["plan"].LastValue)
}

func TestClickHouse_RepeatedSweepIsIdempotent(t *testing.T) {
	repo := newClickHouseRepository(t)
	ctx := context.Background()

	_, err := repo.InsertBatch(ctx, sweepEvents())
	require.NoError(t, err)

	end := sweepBase.Add(time.Hour)
	require.NoError(t, repo.ComputeState(ctx, "ws-1", sweepTargets("seg-1"), repository.StateWindow{To: end}))
	first := mergedStates(t, repo, "seg-1", end)

	later := end.Add(time.Minute)
	require.NoError(t, repo.ComputeState(ctx, "ws-1", sweepTargets("seg-1"), repository.StateWindow{To: later}))
	require.NoError(t, repo.ComputeState(ctx, "ws-1", sweepTargets("seg-1"), repository.StateWindow{From: end, To: later}))
	second := mergedStates(t, repo, "seg-1", later)

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(3), second["purchases"].UniqueCount)
}

func TestClickHouse_PerSubscriberSuppression(t *testing.T) {
	repo := newClickHouseRepository(t)
	ctx := context.Background()

	subscribers := []repository.Subscriber{
		{ComputedPropertyID: "seg-1", Name: "journey-1", Type: domain.SubscriberJourney},
		{ComputedPropertyID: "seg-1", Name: "integration-1", Type: domain.SubscriberIntegration},
	}

	entered := domain.Assignment{
		WorkspaceID:        "ws-1",
		Type:               domain.ComputedPropertyTypeSegment,
		ComputedPropertyID: "seg-1",
		UserID:             "user-1",
		SegmentValue:       true,
		MaxEventTime:       sweepBase,
		AssignedAt:         sweepBase.Add(time.Minute),
	}
	require.NoError(t, repo.InsertAssignments(ctx, []domain.Assignment{entered}))

	changed, err := repo.FindChangedAssignments(ctx, "ws-1", subscribers)
	require.NoError(t, err)
	require.Len(t, changed, 2)
	var journeyChange domain.ChangedAssignment
	for _, c := range changed {
		assert.True(t, c.SegmentValue)
		assert.False(t, c.PreviouslyProcessed)
		if c.ProcessedForType == domain.SubscriberJourney {
			journeyChange = c
		}
	}
	require.Equal(t, "journey-1", journeyChange.ProcessedFor)

	// recording the journey leaves the integration pending
	require.NoError(t, repo.InsertProcessedAssignments(ctx, []domain.ProcessedAssignment{
		journeyChange.Processed(sweepBase.Add(2 * time.Minute)),
	}))
	changed, err = repo.FindChangedAssignments(ctx, "ws-1", subscribers)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "integration-1", changed[0].ProcessedFor)

	require.NoError(t, repo.InsertProcessedAssignments(ctx, []domain.ProcessedAssignment{
		changed[0].Processed(sweepBase.Add(2 * time.Minute)),
	}))

	// an unchanged re-assignment is not dispatched again
	require.NoError(t, repo.InsertAssignments(ctx, []domain.Assignment{{
		WorkspaceID:        "ws-1",
		Type:               domain.ComputedPropertyTypeSegment,
		ComputedPropertyID: "seg-1",
		UserID:             "user-1",
		SegmentValue:       true,
		MaxEventTime:       sweepBase,
		AssignedAt:         sweepBase.Add(3 * time.Minute),
	}}))
	changed, err = repo.FindChangedAssignments(ctx, "ws-1", subscribers)
	require.NoError(t, err)
	assert.Empty(t, changed)

	// leaving the segment reaches both subscribers
	require.NoError(t, repo.InsertAssignments(ctx, []domain.Assignment{{
		WorkspaceID:        "ws-1",
		Type:               domain.ComputedPropertyTypeSegment,
		ComputedPropertyID: "seg-1",
		UserID:             "user-1",
		SegmentValue:       false,
		MaxEventTime:       sweepBase.Add(4 * time.Minute),
		AssignedAt:         sweepBase.Add(5 * time.Minute),
	}}))
	changed, err = repo.FindChangedAssignments(ctx, "ws-1", subscribers)
	require.NoError(t, err)
	require.Len(t, changed, 2)
	for _, c := range changed {
		assert.False(t, c.SegmentValue)
		assert.True(t, c.PreviouslyProcessed)
	}
}
