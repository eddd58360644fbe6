package relational

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// ApplyAssignments upserts the projected value of each assignment
func (r *Repository) ApplyAssignments(ctx context.Context, assignments []domain.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var (
		segments   []SegmentAssignmentModel
		properties []UserPropertyAssignmentModel
	)
	for _, a := range assignments {
		switch a.Type {
		case domain.ComputedPropertyTypeSegment:
			segments = append(segments, SegmentAssignmentModel{
				WorkspaceID: a.WorkspaceID,
				UserID:      a.UserID,
				SegmentID:   a.ComputedPropertyID,
				InSegment:   a.SegmentValue,
				UpdatedAt:   now,
			})
		case domain.ComputedPropertyTypeUserProperty:
			properties = append(properties, UserPropertyAssignmentModel{
				WorkspaceID:    a.WorkspaceID,
				UserID:         a.UserID,
				UserPropertyID: a.ComputedPropertyID,
				Value:          a.UserPropertyValue,
				UpdatedAt:      now,
			})
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(segments) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "user_id"}, {Name: "segment_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"in_segment", "updated_at"}),
			}).CreateInBatches(segments, 500).Error
			if err != nil {
				return fmt.Errorf("failed to upsert segment assignments: %w", err)
			}
		}
		if len(properties) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "user_id"}, {Name: "user_property_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).CreateInBatches(properties, 500).Error
			if err != nil {
				return fmt.Errorf("failed to upsert user property assignments: %w", err)
			}
		}
		return nil
	})
}

// GetSegmentAssignment returns nil when the user has no assignment
func (r *Repository) GetSegmentAssignment(ctx context.Context, workspaceID, userID, segmentID string) (*domain.SegmentAssignmentRecord, error) {
	var m SegmentAssignmentModel
	found, err := first(r.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ? AND segment_id = ?", workspaceID, userID, segmentID), &m)
	if err != nil {
		return nil, fmt.Errorf("failed to get segment assignment: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &domain.SegmentAssignmentRecord{
		WorkspaceID: m.WorkspaceID,
		UserID:      m.UserID,
		SegmentID:   m.SegmentID,
		InSegment:   m.InSegment,
	}, nil
}

// GetUserPropertyValues returns the user's raw JSON property values keyed by
// user property name. Empty values are omitted.
func (r *Repository) GetUserPropertyValues(ctx context.Context, workspaceID, userID string) (map[string]string, error) {
	var rows []struct {
		Name  string
		Value string
	}
	err := r.db.WithContext(ctx).
		Table("user_property_assignments AS a").
		Select("p.name AS name, a.value AS value").
		Joins("JOIN user_properties p ON p.id = a.user_property_id AND p.workspace_id = a.workspace_id").
		Where("a.workspace_id = ? AND a.user_id = ?", workspaceID, userID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get user property values: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Value == "" {
			continue
		}
		values[row.Name] = row.Value
	}
	return values, nil
}
