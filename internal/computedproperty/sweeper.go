// Package computedproperty runs the incremental computed property sweep:
// event state is aggregated per definition, merged into assignments and the
// resulting changes are dispatched to subscribers. Every step keeps its own
// watermark per definition and only advances it after the step succeeded.
package computedproperty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// SignalPublisher delivers signals to journey and integration instances
type SignalPublisher interface {
	Publish(ctx context.Context, signals ...domain.Signal) error
}

// Config holds sweeper tuning
type Config struct {
	// Concurrency bounds parallel scans within a workspace and parallel
	// workspaces in SweepAll
	Concurrency int
	Interval    time.Duration
}

// Sweeper computes state, assignments and dispatches changes per workspace
type Sweeper struct {
	analytics  repository.ComputedPropertyRepository
	resources  repository.ResourceRepository
	periods    repository.PeriodRepository
	projection repository.AssignmentProjectionRepository
	publisher  SignalPublisher
	metrics    *metrics.Metrics
	config     Config
	now        func() time.Time
	log        *zap.Logger
}

// NewSweeper creates a new sweeper
func NewSweeper(
	analytics repository.ComputedPropertyRepository,
	resources repository.ResourceRepository,
	periods repository.PeriodRepository,
	projection repository.AssignmentProjectionRepository,
	publisher SignalPublisher,
	m *metrics.Metrics,
	config Config,
	log *zap.Logger,
) *Sweeper {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	return &Sweeper{
		analytics:  analytics,
		resources:  resources,
		periods:    periods,
		projection: projection,
		publisher:  publisher,
		metrics:    m,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Start sweeps every workspace on each tick until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.log.Info("Sweeper started", zap.Duration("interval", s.config.Interval))
	for {
		if err := s.SweepAll(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("Sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepAll sweeps every workspace. Workspaces are independent, so a failing
// workspace does not stop the others.
func (s *Sweeper) SweepAll(ctx context.Context) error {
	ids, err := s.resources.ListWorkspaceIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workspaces: %w", err)
	}

	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := s.Sweep(ctx, id); err != nil {
				errs[i] = fmt.Errorf("workspace %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Sweep runs ComputeState, WriteAssignments and ProcessAssignments for one
// workspace against a single snapshot of its definitions.
func (s *Sweeper) Sweep(ctx context.Context, workspaceID string) error {
	res, err := s.resources.LoadResources(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}
	now := s.now()

	if err := s.timed(domain.StepComputeState, func() error {
		return s.computeState(ctx, workspaceID, now, res.Segments, res.UserProperties)
	}); err != nil {
		return err
	}
	if err := s.timed(domain.StepWriteAssignments, func() error {
		return s.computeAssignments(ctx, workspaceID, now, res.Segments, res.UserProperties)
	}); err != nil {
		return err
	}
	return s.timed(domain.StepProcessAssignments, func() error {
		return s.processAssignments(ctx, workspaceID, now, res)
	})
}

func (s *Sweeper) timed(step domain.ComputedPropertyStep, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.SweepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.SweepErrors.WithLabelValues(string(step)).Inc()
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}

// definition is the sweep's view of one segment or user property
type definition struct {
	typ          domain.ComputedPropertyType
	id           string
	version      string
	segment      *domain.Segment
	userProperty *domain.UserProperty
}

func definitions(segments []domain.Segment, userProperties []domain.UserProperty) []definition {
	defs := make([]definition, 0, len(segments)+len(userProperties))
	for i := range userProperties {
		up := &userProperties[i]
		defs = append(defs, definition{
			typ:          domain.ComputedPropertyTypeUserProperty,
			id:           up.ID,
			version:      up.Version(),
			userProperty: up,
		})
	}
	for i := range segments {
		seg := &segments[i]
		defs = append(defs, definition{
			typ:     domain.ComputedPropertyTypeSegment,
			id:      seg.ID,
			version: seg.Version(),
			segment: seg,
		})
	}
	return defs
}

// targets returns the stateful units of the definition
func (d definition) targets() []repository.StateTarget {
	if d.userProperty != nil {
		return []repository.StateTarget{{
			Type:               d.typ,
			ComputedPropertyID: d.id,
			StateID:            domain.StateID(d.version, ""),
			UserProperty:       d.userProperty.Definition,
		}}
	}

	leaves := d.segment.Definition.Leaves()
	targets := make([]repository.StateTarget, 0, len(leaves))
	for _, leaf := range leaves {
		targets = append(targets, repository.StateTarget{
			Type:               d.typ,
			ComputedPropertyID: d.id,
			StateID:            domain.StateID(d.version, leaf.NodeID()),
			SegmentNode:        leaf,
		})
	}
	return targets
}

func (d definition) stateIDs() []string {
	targets := d.targets()
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.StateID
	}
	return ids
}

// resumePoint returns where the step continues for d: the end of its last
// period, or zero when there is none for the current version.
func resumePoint(periods map[string]domain.ComputedPropertyPeriod, d definition) time.Time {
	p, ok := periods[d.id]
	if !ok || p.Version != d.version {
		return time.Time{}
	}
	return p.To
}
