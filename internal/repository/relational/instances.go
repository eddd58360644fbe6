package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// GetInstance returns nil when the instance does not exist
func (r *Repository) GetInstance(ctx context.Context, workflowID string) (*domain.JourneyInstance, error) {
	var m JourneyInstanceModel
	found, err := first(r.db.WithContext(ctx).Where("workflow_id = ?", workflowID), &m)
	if err != nil {
		return nil, fmt.Errorf("failed to get journey instance: %w", err)
	}
	if !found {
		return nil, nil
	}
	inst := m.toDomain()
	return &inst, nil
}

// SaveInstance writes the instance with optimistic concurrency. On success
// instance.Version holds the stored version.
func (r *Repository) SaveInstance(ctx context.Context, instance *domain.JourneyInstance, expectedVersion int64) error {
	db := r.db.WithContext(ctx)
	var wakeAt *time.Time
	if instance.WakeAt != nil {
		t := instance.WakeAt.UTC()
		wakeAt = &t
	}

	if expectedVersion == 0 {
		m := JourneyInstanceModel{
			WorkflowID:    instance.WorkflowID,
			WorkspaceID:   instance.Key.WorkspaceID,
			JourneyID:     instance.Key.JourneyID,
			UserID:        instance.Key.UserID,
			EventKey:      instance.Key.EventKey,
			EventKeyValue: instance.Key.EventKeyValue,
			Status:        string(instance.Status),
			WakeAt:        wakeAt,
			State:         instance.State,
			Version:       1,
		}
		if err := db.Create(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return repository.ErrVersionConflict
			}
			return fmt.Errorf("failed to create journey instance: %w", err)
		}
		instance.Version = 1
		instance.UpdatedAt = m.UpdatedAt
		return nil
	}

	now := time.Now().UTC()
	res := db.Model(&JourneyInstanceModel{}).
		Where("workflow_id = ? AND version = ?", instance.WorkflowID, expectedVersion).
		Updates(map[string]any{
			"status":     string(instance.Status),
			"wake_at":    wakeAt,
			"state":      datatypes.JSON(instance.State),
			"version":    expectedVersion + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update journey instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrVersionConflict
	}
	instance.Version = expectedVersion + 1
	instance.UpdatedAt = now
	return nil
}

// DueInstances returns waiting instances whose timer is at or before now,
// earliest first
func (r *Repository) DueInstances(ctx context.Context, now time.Time, limit int) ([]domain.JourneyInstance, error) {
	var rows []JourneyInstanceModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND wake_at IS NOT NULL AND wake_at <= ?", string(domain.InstanceWaiting), now.UTC()).
		Order("wake_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query due instances: %w", err)
	}
	return toInstances(rows), nil
}

// ActiveInstances returns the non-terminal instances of a journey
func (r *Repository) ActiveInstances(ctx context.Context, workspaceID, journeyID string) ([]domain.JourneyInstance, error) {
	var rows []JourneyInstanceModel
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND journey_id = ? AND status IN ?", workspaceID, journeyID,
			[]string{string(domain.InstanceRunning), string(domain.InstanceWaiting)}).
		Order("workflow_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query active instances: %w", err)
	}
	return toInstances(rows), nil
}

// RecordNodeProcessed inserts a ledger row, ignoring duplicates
func (r *Repository) RecordNodeProcessed(ctx context.Context, event domain.UserJourneyEvent) error {
	m := UserJourneyEventModel{
		WorkspaceID:      event.WorkspaceID,
		JourneyID:        event.JourneyID,
		UserID:           event.UserID,
		WorkflowID:       event.WorkflowID,
		JourneyStartedAt: event.JourneyStartedAt.UTC(),
		NodeType:         string(event.NodeType),
		NodeID:           event.NodeID,
		CreatedAt:        event.CreatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to record journey node: %w", err)
	}
	return nil
}

// NodeProcessed reports whether a run already processed a node
func (r *Repository) NodeProcessed(ctx context.Context, workflowID string, journeyStartedAt time.Time, nodeID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserJourneyEventModel{}).
		Where("workflow_id = ? AND journey_started_at = ? AND node_id = ?", workflowID, journeyStartedAt.UTC(), nodeID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check journey node: %w", err)
	}
	return count > 0, nil
}

// HasExited reports whether any run of the instance reached its exit node
func (r *Repository) HasExited(ctx context.Context, workflowID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserJourneyEventModel{}).
		Where("workflow_id = ? AND node_type = ?", workflowID, string(domain.NodeExit)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check journey exit: %w", err)
	}
	return count > 0, nil
}

func (m *JourneyInstanceModel) toDomain() domain.JourneyInstance {
	var wakeAt *time.Time
	if m.WakeAt != nil {
		t := m.WakeAt.UTC()
		wakeAt = &t
	}
	return domain.JourneyInstance{
		WorkflowID: m.WorkflowID,
		Key: domain.InstanceKey{
			WorkspaceID:   m.WorkspaceID,
			JourneyID:     m.JourneyID,
			UserID:        m.UserID,
			EventKey:      m.EventKey,
			EventKeyValue: m.EventKeyValue,
		},
		Status:    domain.InstanceStatus(m.Status),
		WakeAt:    wakeAt,
		State:     m.State,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
}

func toInstances(rows []JourneyInstanceModel) []domain.JourneyInstance {
	out := make([]domain.JourneyInstance, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}
