//go:build integration

package relational

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

func newPostgresRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("engagement_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://test:test@%s:%s/engagement_test?sslmode=disable", host, port.Port())
	db, err := Connect(&config.Database{URL: url, AutoMigrate: true}, zap.NewNop())
	require.NoError(t, err)

	repo := NewRepository(db, zap.NewNop())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestPostgres_InstanceLifecycle(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()

	key := domain.InstanceKey{WorkspaceID: "ws-1", JourneyID: "journey-1", UserID: "user-1", EventKey: "appointmentId", EventKeyValue: "42"}
	inst := &domain.JourneyInstance{
		WorkflowID: key.WorkflowID(),
		Key:        key,
		Status:     domain.InstanceRunning,
		State:      []byte(`{"cursor":"wait"}`),
	}
	require.NoError(t, repo.SaveInstance(ctx, inst, 0))
	assert.ErrorIs(t, repo.SaveInstance(ctx, inst, 0), repository.ErrVersionConflict)

	inst.Status = domain.InstanceExited
	require.NoError(t, repo.SaveInstance(ctx, inst, 1))

	active, err := repo.ActiveInstances(ctx, "ws-1", "journey-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPostgres_ApplyAssignmentsAndPeriods(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.ApplyAssignments(ctx, []domain.Assignment{
		{WorkspaceID: "ws-1", Type: domain.ComputedPropertyTypeSegment, ComputedPropertyID: "seg-1", UserID: "user-1", SegmentValue: true},
	}))
	record, err := repo.GetSegmentAssignment(ctx, "ws-1", "user-1", "seg-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.InSegment)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.InsertPeriods(ctx, []domain.ComputedPropertyPeriod{
		{WorkspaceID: "ws-1", Type: domain.ComputedPropertyTypeSegment, ComputedPropertyID: "seg-1", Version: "v1", Step: domain.StepComputeState, To: now},
	}))
	latest, err := repo.LatestPeriods(ctx, "ws-1", domain.StepComputeState)
	require.NoError(t, err)
	assert.True(t, latest["seg-1"].To.Equal(now))
}
