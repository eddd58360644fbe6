package computedproperty

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

type stateGroup struct {
	from    time.Time
	defs    []definition
	targets []repository.StateTarget
}

// computeState scans events in [resume point, now) for every definition.
// Definitions sharing a resume point share one scan. A group's watermark only
// advances once its scan succeeded.
func (s *Sweeper) computeState(ctx context.Context, workspaceID string, now time.Time, segments []domain.Segment, userProperties []domain.UserProperty) error {
	defs := definitions(segments, userProperties)
	if len(defs) == 0 {
		return nil
	}

	periods, err := s.periods.LatestPeriods(ctx, workspaceID, domain.StepComputeState)
	if err != nil {
		return fmt.Errorf("failed to load periods: %w", err)
	}

	groups := map[int64]*stateGroup{}
	for _, d := range defs {
		from := resumePoint(periods, d)
		if !from.IsZero() && !from.Before(now) {
			continue
		}
		key := from.UnixMilli()
		if from.IsZero() {
			key = 0
		}
		g, ok := groups[key]
		if !ok {
			g = &stateGroup{from: from}
			groups[key] = g
		}
		g.defs = append(g.defs, d)
		g.targets = append(g.targets, d.targets()...)
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var (
		mu        sync.Mutex
		completed []domain.ComputedPropertyPeriod
		eg        errgroup.Group
	)
	eg.SetLimit(s.config.Concurrency)
	for _, k := range keys {
		group := groups[k]
		eg.Go(func() error {
			window := repository.StateWindow{From: group.from, To: now}
			if err := s.analytics.ComputeState(ctx, workspaceID, group.targets, window); err != nil {
				return fmt.Errorf("failed to compute state from %s: %w", group.from.Format(time.RFC3339), err)
			}

			mu.Lock()
			defer mu.Unlock()
			for _, d := range group.defs {
				completed = append(completed, domain.ComputedPropertyPeriod{
					WorkspaceID:        workspaceID,
					Type:               d.typ,
					ComputedPropertyID: d.id,
					Version:            d.version,
					Step:               domain.StepComputeState,
					From:               group.from,
					To:                 now,
				})
			}
			return nil
		})
	}
	scanErr := eg.Wait()

	if err := s.periods.InsertPeriods(ctx, completed); err != nil {
		return fmt.Errorf("failed to commit state periods: %w", err)
	}

	s.log.Debug("Computed state",
		zap.String("workspace_id", workspaceID),
		zap.Int("group_count", len(groups)),
		zap.Int("completed_count", len(completed)))
	return scanErr
}
