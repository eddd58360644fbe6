package relational

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// LatestPeriods returns the most recent period per computed property id
func (r *Repository) LatestPeriods(ctx context.Context, workspaceID string, step domain.ComputedPropertyStep) (map[string]domain.ComputedPropertyPeriod, error) {
	var rows []ComputedPropertyPeriodModel
	err := r.db.WithContext(ctx).Raw(`
		SELECT p.*
		FROM computed_property_periods p
		JOIN (
			SELECT computed_property_id, MAX(period_to) AS max_to
			FROM computed_property_periods
			WHERE workspace_id = ? AND step = ?
			GROUP BY computed_property_id
		) latest
			ON p.computed_property_id = latest.computed_property_id
			AND p.period_to = latest.max_to
		WHERE p.workspace_id = ? AND p.step = ?
		ORDER BY p.id`, workspaceID, string(step), workspaceID, string(step)).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest periods: %w", err)
	}

	periods := make(map[string]domain.ComputedPropertyPeriod, len(rows))
	for _, m := range rows {
		// ties on period_to resolve to the last inserted row
		periods[m.ComputedPropertyID] = domain.ComputedPropertyPeriod{
			WorkspaceID:        m.WorkspaceID,
			Type:               domain.ComputedPropertyType(m.Type),
			ComputedPropertyID: m.ComputedPropertyID,
			Version:            m.Version,
			Step:               domain.ComputedPropertyStep(m.Step),
			From:               m.PeriodFrom.UTC(),
			To:                 m.PeriodTo.UTC(),
		}
	}
	return periods, nil
}

// InsertPeriods records periods in one transaction
func (r *Repository) InsertPeriods(ctx context.Context, periods []domain.ComputedPropertyPeriod) error {
	if len(periods) == 0 {
		return nil
	}

	models := make([]ComputedPropertyPeriodModel, len(periods))
	for i, p := range periods {
		models[i] = ComputedPropertyPeriodModel{
			WorkspaceID:        p.WorkspaceID,
			Step:               string(p.Step),
			ComputedPropertyID: p.ComputedPropertyID,
			Type:               string(p.Type),
			Version:            p.Version,
			PeriodFrom:         p.From.UTC(),
			PeriodTo:           p.To.UTC(),
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(models, 500).Error; err != nil {
			return fmt.Errorf("failed to insert periods: %w", err)
		}
		return nil
	})
}
