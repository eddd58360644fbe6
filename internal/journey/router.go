package journey

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
	"github.com/BarkinBalci/engagement-engine/internal/segment"
)

type keyedJourney struct {
	id    string
	entry domain.EventEntryNode
}

type routeCacheEntry struct {
	journeys []keyedJourney
	loadedAt time.Time
}

// EventRouter forwards stored track events to event-keyed journeys. Every
// track event carrying a journey's key property is routed to the instance
// for that key value.
type EventRouter struct {
	resources repository.ResourceRepository
	publisher SignalPublisher
	clock     Clock
	refresh   time.Duration
	log       *zap.Logger

	mu    sync.Mutex
	cache map[string]routeCacheEntry
}

// NewEventRouter creates a router. Keyed journeys are reloaded per workspace
// at most once per refresh interval.
func NewEventRouter(resources repository.ResourceRepository, publisher SignalPublisher, clock Clock, refresh time.Duration, log *zap.Logger) *EventRouter {
	if clock == nil {
		clock = SystemClock()
	}
	return &EventRouter{
		resources: resources,
		publisher: publisher,
		clock:     clock,
		refresh:   refresh,
		log:       log,
		cache:     make(map[string]routeCacheEntry),
	}
}

// Route publishes one track-event signal per matching keyed journey
func (r *EventRouter) Route(ctx context.Context, events []*domain.Event) error {
	var signals []domain.Signal
	now := r.clock.Now()

	for _, e := range events {
		if e.EventType != domain.EventTypeTrack {
			continue
		}
		userID := e.UserOrAnonymousID()
		if userID == "" {
			continue
		}

		journeys, err := r.keyedJourneys(ctx, e.WorkspaceID)
		if err != nil {
			return err
		}
		for _, j := range journeys {
			value := gjson.Get(e.Properties, segment.NormalizePath(j.entry.Key))
			if !value.Exists() || value.Type == gjson.Null || value.String() == "" {
				continue
			}
			key := domain.InstanceKey{
				WorkspaceID:   e.WorkspaceID,
				JourneyID:     j.id,
				UserID:        userID,
				EventKey:      j.entry.Key,
				EventKeyValue: value.String(),
			}
			signals = append(signals, domain.TrackEventSignal(key, e.TrackEvent(), now))
		}
	}

	if len(signals) == 0 {
		return nil
	}
	if err := r.publisher.Publish(ctx, signals...); err != nil {
		return fmt.Errorf("failed to publish track event signals: %w", err)
	}

	r.log.Debug("Routed track events to keyed journeys", zap.Int("signal_count", len(signals)))
	return nil
}

func (r *EventRouter) keyedJourneys(ctx context.Context, workspaceID string) ([]keyedJourney, error) {
	r.mu.Lock()
	entry, ok := r.cache[workspaceID]
	r.mu.Unlock()
	if ok && r.clock.Now().Sub(entry.loadedAt) < r.refresh {
		return entry.journeys, nil
	}

	res, err := r.resources.LoadResources(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journeys: %w", err)
	}

	var journeys []keyedJourney
	for _, j := range res.Journeys {
		if j.Status != domain.JourneyRunning {
			continue
		}
		if e, ok := j.Definition.Entry.(domain.EventEntryNode); ok {
			journeys = append(journeys, keyedJourney{id: j.ID, entry: e})
		}
	}

	r.mu.Lock()
	r.cache[workspaceID] = routeCacheEntry{journeys: journeys, loadedAt: r.clock.Now()}
	r.mu.Unlock()
	return journeys, nil
}
