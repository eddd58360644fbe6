package computedproperty

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
	"github.com/BarkinBalci/engagement-engine/internal/segment"
)

// computeAssignments merges the state written since each definition's last
// WriteAssignments watermark into one assignment per touched user. The window
// ends at the definition's ComputeState watermark, so this step never passes
// the step before it.
func (s *Sweeper) computeAssignments(ctx context.Context, workspaceID string, now time.Time, segments []domain.Segment, userProperties []domain.UserProperty) error {
	defs := definitions(segments, userProperties)
	if len(defs) == 0 {
		return nil
	}

	statePeriods, err := s.periods.LatestPeriods(ctx, workspaceID, domain.StepComputeState)
	if err != nil {
		return fmt.Errorf("failed to load state periods: %w", err)
	}
	assignmentPeriods, err := s.periods.LatestPeriods(ctx, workspaceID, domain.StepWriteAssignments)
	if err != nil {
		return fmt.Errorf("failed to load assignment periods: %w", err)
	}

	var (
		mu        sync.Mutex
		completed []domain.ComputedPropertyPeriod
		eg        errgroup.Group
	)
	eg.SetLimit(s.config.Concurrency)
	for _, d := range defs {
		upper, ok := statePeriods[d.id]
		if !ok || upper.Version != d.version {
			continue
		}
		since := resumePoint(assignmentPeriods, d)
		if !upper.To.After(since) {
			continue
		}

		eg.Go(func() error {
			states, err := s.analytics.FindUpdatedStates(ctx, repository.UpdatedStateQuery{
				WorkspaceID:        workspaceID,
				Type:               d.typ,
				ComputedPropertyID: d.id,
				StateIDs:           d.stateIDs(),
				Since:              since,
				To:                 upper.To,
			})
			if err != nil {
				return fmt.Errorf("failed to find updated states for %s: %w", d.id, err)
			}

			assignments := buildAssignments(workspaceID, d, states, now)
			if err := s.analytics.InsertAssignments(ctx, assignments); err != nil {
				return fmt.Errorf("failed to insert assignments for %s: %w", d.id, err)
			}

			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, domain.ComputedPropertyPeriod{
				WorkspaceID:        workspaceID,
				Type:               d.typ,
				ComputedPropertyID: d.id,
				Version:            d.version,
				Step:               domain.StepWriteAssignments,
				From:               since,
				To:                 upper.To,
			})
			return nil
		})
	}
	writeErr := eg.Wait()

	if err := s.periods.InsertPeriods(ctx, completed); err != nil {
		return fmt.Errorf("failed to commit assignment periods: %w", err)
	}

	s.log.Debug("Computed assignments",
		zap.String("workspace_id", workspaceID),
		zap.Int("completed_count", len(completed)))
	return writeErr
}

// buildAssignments reduces merged states to one assignment per user
func buildAssignments(workspaceID string, d definition, states []domain.ComputedPropertyState, now time.Time) []domain.Assignment {
	byUser := map[string]map[string]domain.ComputedPropertyState{}
	for _, st := range states {
		if byUser[st.UserID] == nil {
			byUser[st.UserID] = map[string]domain.ComputedPropertyState{}
		}
		byUser[st.UserID][st.StateID] = st
	}

	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	assignments := make([]domain.Assignment, 0, len(users))
	for _, userID := range users {
		userStates := byUser[userID]
		a := domain.Assignment{
			WorkspaceID:        workspaceID,
			Type:               d.typ,
			ComputedPropertyID: d.id,
			UserID:             userID,
			AssignedAt:         now,
		}
		for _, st := range userStates {
			if st.MaxEventTime.After(a.MaxEventTime) {
				a.MaxEventTime = st.MaxEventTime
			}
		}

		if d.userProperty != nil {
			a.UserPropertyValue = userPropertyValue(d.userProperty.Definition, userStates[domain.StateID(d.version, "")])
		} else {
			a.SegmentValue = segmentValue(d, userStates)
		}
		assignments = append(assignments, a)
	}
	return assignments
}

func userPropertyValue(def domain.UserPropertyDefinition, st domain.ComputedPropertyState) string {
	if _, ok := def.(domain.PerformedManyUserProperty); ok {
		return strconv.FormatUint(st.UniqueCount, 10)
	}
	return st.LastValue
}

func segmentValue(d definition, states map[string]domain.ComputedPropertyState) bool {
	return segment.Evaluate(&d.segment.Definition, func(node domain.SegmentNode) bool {
		st := states[domain.StateID(d.version, node.NodeID())]
		switch n := node.(type) {
		case domain.TraitSegmentNode:
			return segment.MatchRaw(st.LastValue, n.Operator)
		case domain.PerformedSegmentNode:
			op, times := n.Threshold()
			return segment.CompareCount(int(st.UniqueCount), op, times)
		default:
			return false
		}
	})
}
