package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// subQuery is the condition and extraction pair for one state target. Events
// matching condition contribute argMaxValue to the last value and uniqValue to
// the distinct count.
type subQuery struct {
	condition   string
	argMaxValue string
	uniqValue   string
}

func buildSubQuery(qb *queryBuilder, target repository.StateTarget) (subQuery, error) {
	if target.UserProperty != nil {
		return userPropertySubQuery(qb, target.UserProperty)
	}
	if target.SegmentNode != nil {
		return segmentNodeSubQuery(qb, target.SegmentNode)
	}
	return subQuery{}, fmt.Errorf("%w: state target %s has no definition", domain.ErrUnhandledDefinition, target.ComputedPropertyID)
}

func userPropertySubQuery(qb *queryBuilder, def domain.UserPropertyDefinition) (subQuery, error) {
	switch d := def.(type) {
	case domain.IDUserProperty:
		return subQuery{
			condition:   "user_id != ''",
			argMaxValue: "toJSONString(user_id)",
			uniqValue:   "''",
		}, nil
	case domain.AnonymousIDUserProperty:
		return subQuery{
			condition:   "anonymous_id != ''",
			argMaxValue: "toJSONString(anonymous_id)",
			uniqValue:   "''",
		}, nil
	case domain.TraitUserProperty:
		raw := fmt.Sprintf("JSONExtractRaw(%s)", qb.jsonArgs(d.Path))
		return subQuery{
			condition:   fmt.Sprintf("event_type = 'identify' AND %s NOT IN ('', 'null')", raw),
			argMaxValue: raw,
			uniqValue:   "''",
		}, nil
	case domain.PerformedUserProperty:
		raw := fmt.Sprintf("JSONExtractRaw(%s)", qb.jsonArgs(d.Path))
		return subQuery{
			condition:   fmt.Sprintf("event_type = 'track' AND event = %s AND %s NOT IN ('', 'null')", qb.add(d.Event), raw),
			argMaxValue: raw,
			uniqValue:   "''",
		}, nil
	case domain.PerformedManyUserProperty:
		return subQuery{
			condition:   fmt.Sprintf("event_type = 'track' AND has(%s, event)", qb.add(d.Events)),
			argMaxValue: "''",
			uniqValue:   "message_id",
		}, nil
	default:
		return subQuery{}, fmt.Errorf("%w: user property %T", domain.ErrUnhandledDefinition, def)
	}
}

func segmentNodeSubQuery(qb *queryBuilder, node domain.SegmentNode) (subQuery, error) {
	switch n := node.(type) {
	case domain.TraitSegmentNode:
		args := qb.jsonArgs(n.Path)
		return subQuery{
			condition:   fmt.Sprintf("event_type = 'identify' AND JSONHas(%s)", args),
			argMaxValue: fmt.Sprintf("JSONExtractRaw(%s)", args),
			uniqValue:   "''",
		}, nil
	case domain.PerformedSegmentNode:
		conditions := []string{"event_type = 'track'", fmt.Sprintf("event = %s", qb.add(n.Event))}
		for _, p := range n.Properties {
			conditions = append(conditions, propertyCondition(qb, p))
		}
		return subQuery{
			condition:   strings.Join(conditions, " AND "),
			argMaxValue: "''",
			uniqValue:   "message_id",
		}, nil
	default:
		return subQuery{}, fmt.Errorf("%w: segment node %T", domain.ErrUnhandledDefinition, node)
	}
}

func propertyCondition(qb *queryBuilder, p domain.PropertyCondition) string {
	args := qb.jsonArgs(p.Path)
	raw := fmt.Sprintf("JSONExtractRaw(%s)", args)
	switch p.Operator.Type {
	case domain.OperatorEquals, domain.OperatorNotEquals:
		value := qb.add(p.Operator.Value)
		equals := fmt.Sprintf("(JSONExtractString(%s) = %s OR %s = %s)", args, value, raw, value)
		if p.Operator.Type == domain.OperatorNotEquals {
			return "NOT " + equals
		}
		return equals
	case domain.OperatorExists:
		return fmt.Sprintf("%s NOT IN ('', 'null', '\"\"')", raw)
	case domain.OperatorNotExists:
		return fmt.Sprintf("%s IN ('', 'null', '\"\"')", raw)
	case domain.OperatorLessThan:
		return fmt.Sprintf("ifNull(toFloat64OrNull(trim(BOTH '\"' FROM %s)) < %s, 0)", raw, qb.add(p.Operator.Number))
	case domain.OperatorGreaterThanOrEqual:
		return fmt.Sprintf("ifNull(toFloat64OrNull(trim(BOTH '\"' FROM %s)) >= %s, 0)", raw, qb.add(p.Operator.Number))
	default:
		return "0"
	}
}

// buildComputeStateQuery compiles a batch of targets sharing a window into one
// INSERT ... SELECT over the event table.
func buildComputeStateQuery(workspaceID string, targets []repository.StateTarget, window repository.StateWindow) (string, []any, error) {
	qb := newQueryBuilder()

	tuples := make([]string, 0, len(targets))
	for _, target := range targets {
		sq, err := buildSubQuery(qb, target)
		if err != nil {
			return "", nil, err
		}
		tuples = append(tuples, fmt.Sprintf(
			"if(%s, (%s, %s, %s, %s, %s), (NULL, NULL, NULL, NULL, NULL))",
			sq.condition,
			qb.add(string(target.Type)),
			qb.add(target.ComputedPropertyID),
			qb.add(target.StateID),
			sq.argMaxValue,
			sq.uniqValue,
		))
	}

	lowerBound := ""
	if !window.From.IsZero() {
		lowerBound = fmt.Sprintf("AND processing_time >= %s", qb.addTime(window.From))
	}

	query := fmt.Sprintf(`
	INSERT INTO computed_property_state (
		workspace_id, type, computed_property_id, state_id, user_id,
		last_value, unique_count, max_event_time, computed_at
	)
	SELECT
		workspace_id,
		assumeNotNull(c.1) AS cp_type,
		assumeNotNull(c.2) AS cp_id,
		assumeNotNull(c.3) AS cp_state_id,
		user_or_anonymous_id AS cp_user_id,
		argMaxState(assumeNotNull(c.4), event_time),
		uniqState(assumeNotNull(c.5)),
		maxState(event_time),
		%s
	FROM user_events
	ARRAY JOIN arrayFilter(v -> NOT isNull(v.1), [%s]) AS c
	WHERE workspace_id = %s
		AND processing_time < %s
		%s
	GROUP BY workspace_id, cp_type, cp_id, cp_state_id, cp_user_id
	`,
		qb.addTime(window.To),
		strings.Join(tuples, ",\n\t\t"),
		qb.add(workspaceID),
		qb.addTime(window.To),
		lowerBound,
	)

	return query, qb.args, nil
}

// ComputeState scans events in the window and appends merged partial states
func (r *Repository) ComputeState(ctx context.Context, workspaceID string, targets []repository.StateTarget, window repository.StateWindow) error {
	if len(targets) == 0 {
		return nil
	}

	query, args, err := buildComputeStateQuery(workspaceID, targets, window)
	if err != nil {
		return err
	}

	if err := r.client.Conn().Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to compute state: %w", err)
	}

	r.log.Debug("Computed state",
		zap.String("workspace_id", workspaceID),
		zap.Int("target_count", len(targets)),
		zap.Time("from", window.From),
		zap.Time("to", window.To))
	return nil
}

// FindUpdatedStates returns merged states of users touched within (Since, To]
func (r *Repository) FindUpdatedStates(ctx context.Context, q repository.UpdatedStateQuery) ([]domain.ComputedPropertyState, error) {
	if len(q.StateIDs) == 0 {
		return nil, nil
	}

	qb := newQueryBuilder()
	workspace := qb.add(q.WorkspaceID)
	cpType := qb.add(string(q.Type))
	cpID := qb.add(q.ComputedPropertyID)
	stateIDs := qb.add(q.StateIDs)

	query := fmt.Sprintf(`
	SELECT
		user_id,
		state_id,
		argMaxMerge(last_value) AS merged_last_value,
		uniqMerge(unique_count) AS merged_unique_count,
		maxMerge(max_event_time) AS merged_max_event_time
	FROM computed_property_state
	WHERE workspace_id = %[1]s
		AND type = %[2]s
		AND computed_property_id = %[3]s
		AND has(%[4]s, state_id)
		AND user_id IN (
			SELECT user_id
			FROM updated_computed_property_state
			WHERE workspace_id = %[1]s
				AND type = %[2]s
				AND computed_property_id = %[3]s
				AND has(%[4]s, state_id)
				AND computed_at > %[5]s
				AND computed_at <= %[6]s
		)
	GROUP BY user_id, state_id
	`, workspace, cpType, cpID, stateIDs, qb.addTime(q.Since), qb.addTime(q.To))

	rows, err := r.client.Conn().Query(ctx, query, qb.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query updated states: %w", err)
	}
	defer r.closeRows(rows, "updated_states")

	var states []domain.ComputedPropertyState
	for rows.Next() {
		var s domain.ComputedPropertyState
		if err := rows.Scan(&s.UserID, &s.StateID, &s.LastValue, &s.UniqueCount, &s.MaxEventTime); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state rows: %w", err)
	}

	return states, nil
}
