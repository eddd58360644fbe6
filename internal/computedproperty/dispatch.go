package computedproperty

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// BuildSubscribers lists every (computed property, subscriber) pair of a
// workspace: running journeys per referenced segment, integrations per
// subscribed segment or user property, and the relational store for every
// computed property.
func BuildSubscribers(res *domain.Resources) []repository.Subscriber {
	known := map[string]bool{}
	var subscribers []repository.Subscriber
	for _, seg := range res.Segments {
		known[seg.ID] = true
		subscribers = append(subscribers, repository.Subscriber{
			ComputedPropertyID: seg.ID,
			Name:               domain.StoreSubscriberName,
			Type:               domain.SubscriberStore,
		})
	}
	for _, up := range res.UserProperties {
		known[up.ID] = true
		subscribers = append(subscribers, repository.Subscriber{
			ComputedPropertyID: up.ID,
			Name:               domain.StoreSubscriberName,
			Type:               domain.SubscriberStore,
		})
	}

	for _, j := range res.Journeys {
		if j.Status != domain.JourneyRunning {
			continue
		}
		for _, segmentID := range j.Definition.SegmentReferences() {
			if !known[segmentID] {
				continue
			}
			subscribers = append(subscribers, repository.Subscriber{
				ComputedPropertyID: segmentID,
				Name:               j.ID,
				Type:               domain.SubscriberJourney,
			})
		}
	}

	for _, in := range res.Integrations {
		if !in.Enabled {
			continue
		}
		ids := append(append([]string{}, in.SubscribedSegments...), in.SubscribedUserProperties...)
		for _, id := range ids {
			if !known[id] {
				continue
			}
			subscribers = append(subscribers, repository.Subscriber{
				ComputedPropertyID: id,
				Name:               in.Name,
				Type:               domain.SubscriberIntegration,
			})
		}
	}

	sort.SliceStable(subscribers, func(i, j int) bool {
		a, b := subscribers[i], subscribers[j]
		if a.ComputedPropertyID != b.ComputedPropertyID {
			return a.ComputedPropertyID < b.ComputedPropertyID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Name < b.Name
	})
	return subscribers
}

// needsDispatch decides whether a changed value is delivered. Non-empty user
// property values and segment entries are always delivered. Retractions only
// reach subscribers that saw a value before, and never journeys.
func needsDispatch(c domain.ChangedAssignment) bool {
	switch c.Type {
	case domain.ComputedPropertyTypeUserProperty:
		if c.UserPropertyValue != "" && c.UserPropertyValue != `""` {
			return true
		}
	case domain.ComputedPropertyTypeSegment:
		if c.SegmentValue {
			return true
		}
	}
	return c.PreviouslyProcessed && c.ProcessedForType != domain.SubscriberJourney
}

// processAssignments diffs the latest assignments against what each
// subscriber last saw and delivers the differences. Only delivered changes
// are recorded as processed, so a failed delivery is retried on the next
// sweep.
func (s *Sweeper) processAssignments(ctx context.Context, workspaceID string, now time.Time, res *domain.Resources) error {
	subscribers := BuildSubscribers(res)
	if len(subscribers) == 0 {
		return nil
	}

	changed, err := s.analytics.FindChangedAssignments(ctx, workspaceID, subscribers)
	if err != nil {
		return fmt.Errorf("failed to find changed assignments: %w", err)
	}

	var (
		store     []domain.ChangedAssignment
		signalled []domain.ChangedAssignment
		signals   []domain.Signal
	)
	for _, c := range changed {
		if !needsDispatch(c) {
			continue
		}
		switch c.ProcessedForType {
		case domain.SubscriberStore:
			store = append(store, c)
		case domain.SubscriberJourney, domain.SubscriberIntegration:
			signalled = append(signalled, c)
			signals = append(signals, domain.ChangeSignal(c, now))
		}
	}

	var processed []domain.ProcessedAssignment
	var dispatchErr error

	if len(store) > 0 {
		assignments := make([]domain.Assignment, len(store))
		for i, c := range store {
			assignments[i] = c.Assignment
		}
		if err := s.projection.ApplyAssignments(ctx, assignments); err != nil {
			dispatchErr = fmt.Errorf("failed to apply assignment projections: %w", err)
		} else {
			for _, c := range store {
				processed = append(processed, c.Processed(now))
			}
			s.metrics.ChangesDispatched.WithLabelValues(string(domain.SubscriberStore)).Add(float64(len(store)))
		}
	}

	if len(signals) > 0 {
		if err := s.publisher.Publish(ctx, signals...); err != nil {
			dispatchErr = fmt.Errorf("failed to publish change signals: %w", err)
		} else {
			for _, c := range signalled {
				processed = append(processed, c.Processed(now))
				s.metrics.ChangesDispatched.WithLabelValues(string(c.ProcessedForType)).Inc()
			}
		}
	}

	if err := s.analytics.InsertProcessedAssignments(ctx, processed); err != nil {
		return fmt.Errorf("failed to record processed assignments: %w", err)
	}
	if dispatchErr != nil {
		return dispatchErr
	}

	if err := s.recordProcessPeriods(ctx, workspaceID, res); err != nil {
		return err
	}

	s.log.Info("Processed assignments",
		zap.String("workspace_id", workspaceID),
		zap.Int("changed_count", len(changed)),
		zap.Int("dispatched_count", len(processed)))
	return nil
}

// recordProcessPeriods advances the ProcessAssignments watermark of every
// definition to its WriteAssignments watermark.
func (s *Sweeper) recordProcessPeriods(ctx context.Context, workspaceID string, res *domain.Resources) error {
	assignmentPeriods, err := s.periods.LatestPeriods(ctx, workspaceID, domain.StepWriteAssignments)
	if err != nil {
		return fmt.Errorf("failed to load assignment periods: %w", err)
	}
	processPeriods, err := s.periods.LatestPeriods(ctx, workspaceID, domain.StepProcessAssignments)
	if err != nil {
		return fmt.Errorf("failed to load process periods: %w", err)
	}

	var periods []domain.ComputedPropertyPeriod
	for _, d := range definitions(res.Segments, res.UserProperties) {
		upper, ok := assignmentPeriods[d.id]
		if !ok || upper.Version != d.version {
			continue
		}
		since := resumePoint(processPeriods, d)
		if !upper.To.After(since) {
			continue
		}
		periods = append(periods, domain.ComputedPropertyPeriod{
			WorkspaceID:        workspaceID,
			Type:               d.typ,
			ComputedPropertyID: d.id,
			Version:            d.version,
			Step:               domain.StepProcessAssignments,
			From:               since,
			To:                 upper.To,
		})
	}

	if err := s.periods.InsertPeriods(ctx, periods); err != nil {
		return fmt.Errorf("failed to commit process periods: %w", err)
	}
	return nil
}
