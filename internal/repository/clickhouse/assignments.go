package clickhouse

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// InsertAssignments appends assignment rows. Readers take the row with the
// latest assigned_at.
func (r *Repository) InsertAssignments(ctx context.Context, assignments []domain.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, `INSERT INTO computed_property_assignments (
		workspace_id, type, computed_property_id, user_id, segment_value, user_property_value, max_event_time, assigned_at
	)`)
	if err != nil {
		return fmt.Errorf("failed to prepare assignment batch: %w", err)
	}

	for _, a := range assignments {
		if err := batch.Append(
			a.WorkspaceID,
			string(a.Type),
			a.ComputedPropertyID,
			a.UserID,
			a.SegmentValue,
			a.UserPropertyValue,
			a.MaxEventTime,
			a.AssignedAt,
		); err != nil {
			return fmt.Errorf("failed to append assignment to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send assignment batch: %w", err)
	}
	return nil
}

// FindChangedAssignments diffs the latest assignment of every subscribed
// computed property against the latest value processed for each subscriber.
func (r *Repository) FindChangedAssignments(ctx context.Context, workspaceID string, subscribers []repository.Subscriber) ([]domain.ChangedAssignment, error) {
	if len(subscribers) == 0 {
		return nil, nil
	}

	propertyIDs := make([]string, len(subscribers))
	names := make([]string, len(subscribers))
	types := make([]string, len(subscribers))
	for i, s := range subscribers {
		propertyIDs[i] = s.ComputedPropertyID
		names[i] = s.Name
		types[i] = string(s.Type)
	}

	qb := newQueryBuilder()
	workspace := qb.add(workspaceID)
	subPropertyIDs := qb.add(propertyIDs)

	query := fmt.Sprintf(`
	SELECT
		a.workspace_id,
		a.type,
		a.computed_property_id,
		a.user_id,
		a.latest_segment_value,
		a.latest_user_property_value,
		a.latest_max_event_time,
		a.latest_assigned_at,
		a.processed_for,
		a.processed_for_type,
		p.user_id != '' AS previously_processed
	FROM (
		SELECT
			workspace_id,
			type,
			computed_property_id,
			user_id,
			latest_segment_value,
			latest_user_property_value,
			latest_max_event_time,
			latest_assigned_at,
			sub.2 AS processed_for,
			sub.3 AS processed_for_type
		FROM (
			SELECT
				workspace_id,
				type,
				computed_property_id,
				user_id,
				argMax(segment_value, assigned_at) AS latest_segment_value,
				argMax(user_property_value, assigned_at) AS latest_user_property_value,
				argMax(max_event_time, assigned_at) AS latest_max_event_time,
				max(assigned_at) AS latest_assigned_at
			FROM computed_property_assignments
			WHERE workspace_id = %[1]s
				AND has(%[2]s, computed_property_id)
			GROUP BY workspace_id, type, computed_property_id, user_id
		)
		ARRAY JOIN arrayFilter(x -> x.1 = computed_property_id, arrayZip(%[2]s, %[3]s, %[4]s)) AS sub
	) AS a
	LEFT JOIN (
		SELECT
			computed_property_id,
			user_id,
			processed_for,
			processed_for_type,
			argMax(segment_value, processed_at) AS latest_segment_value,
			argMax(user_property_value, processed_at) AS latest_user_property_value
		FROM processed_computed_properties
		WHERE workspace_id = %[1]s
		GROUP BY computed_property_id, user_id, processed_for, processed_for_type
	) AS p
	ON a.computed_property_id = p.computed_property_id
		AND a.user_id = p.user_id
		AND a.processed_for = p.processed_for
		AND a.processed_for_type = p.processed_for_type
	WHERE a.latest_segment_value != p.latest_segment_value
		OR a.latest_user_property_value != p.latest_user_property_value
	`, workspace, subPropertyIDs, qb.add(names), qb.add(types))

	rows, err := r.client.Conn().Query(ctx, query, qb.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed assignments: %w", err)
	}
	defer r.closeRows(rows, "changed_assignments")

	var changed []domain.ChangedAssignment
	for rows.Next() {
		var (
			c                   domain.ChangedAssignment
			cpType, subType     string
			previouslyProcessed uint8
		)
		if err := rows.Scan(
			&c.WorkspaceID,
			&cpType,
			&c.ComputedPropertyID,
			&c.UserID,
			&c.SegmentValue,
			&c.UserPropertyValue,
			&c.MaxEventTime,
			&c.AssignedAt,
			&c.ProcessedFor,
			&subType,
			&previouslyProcessed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan changed assignment row: %w", err)
		}
		c.Type = domain.ComputedPropertyType(cpType)
		c.ProcessedForType = domain.SubscriberType(subType)
		c.PreviouslyProcessed = previouslyProcessed == 1
		changed = append(changed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changed assignment rows: %w", err)
	}

	r.log.Debug("Found changed assignments",
		zap.String("workspace_id", workspaceID),
		zap.Int("count", len(changed)))
	return changed, nil
}

// InsertProcessedAssignments records the values dispatched to subscribers
func (r *Repository) InsertProcessedAssignments(ctx context.Context, processed []domain.ProcessedAssignment) error {
	if len(processed) == 0 {
		return nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, `INSERT INTO processed_computed_properties (
		workspace_id, user_id, type, computed_property_id, processed_for_type, processed_for,
		segment_value, user_property_value, max_event_time, processed_at
	)`)
	if err != nil {
		return fmt.Errorf("failed to prepare processed batch: %w", err)
	}

	for _, p := range processed {
		if err := batch.Append(
			p.WorkspaceID,
			p.UserID,
			string(p.Type),
			p.ComputedPropertyID,
			string(p.ProcessedForType),
			p.ProcessedFor,
			p.SegmentValue,
			p.UserPropertyValue,
			p.MaxEventTime,
			p.ProcessedAt,
		); err != nil {
			return fmt.Errorf("failed to append processed assignment to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send processed batch: %w", err)
	}
	return nil
}

// FindUserAssignments returns the latest assignment of every computed
// property for one user
func (r *Repository) FindUserAssignments(ctx context.Context, workspaceID, userID string) ([]domain.Assignment, error) {
	qb := newQueryBuilder()
	query := fmt.Sprintf(`
	SELECT
		type,
		computed_property_id,
		argMax(segment_value, assigned_at) AS latest_segment_value,
		argMax(user_property_value, assigned_at) AS latest_user_property_value,
		argMax(max_event_time, assigned_at) AS latest_max_event_time,
		max(assigned_at) AS latest_assigned_at
	FROM computed_property_assignments
	WHERE workspace_id = %s AND user_id = %s
	GROUP BY type, computed_property_id
	ORDER BY type, computed_property_id
	`, qb.add(workspaceID), qb.add(userID))

	rows, err := r.client.Conn().Query(ctx, query, qb.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user assignments: %w", err)
	}
	defer r.closeRows(rows, "user_assignments")

	var assignments []domain.Assignment
	for rows.Next() {
		a := domain.Assignment{WorkspaceID: workspaceID, UserID: userID}
		var cpType string
		if err := rows.Scan(&cpType, &a.ComputedPropertyID, &a.SegmentValue, &a.UserPropertyValue, &a.MaxEventTime, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user assignment row: %w", err)
		}
		a.Type = domain.ComputedPropertyType(cpType)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user assignment rows: %w", err)
	}

	return assignments, nil
}
