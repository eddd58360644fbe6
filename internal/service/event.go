package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/dto"
	"github.com/BarkinBalci/engagement-engine/internal/queue"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// ErrInvalidEvent marks events rejected before they reach the queue
var ErrInvalidEvent = errors.New("invalid event")

var (
	errMissingIdentity  = fmt.Errorf("%w: user_id or anonymous_id is required", ErrInvalidEvent)
	errMissingEventName = fmt.Errorf("%w: track events require an event name", ErrInvalidEvent)
)

// EventService represents event service
type EventService struct {
	publisher   queue.QueuePublisher
	assignments repository.ComputedPropertyRepository
	now         func() time.Time
	log         *zap.Logger
}

// NewEventService creates a new event service
func NewEventService(publisher queue.QueuePublisher, assignments repository.ComputedPropertyRepository, log *zap.Logger) *EventService {
	return &EventService{
		publisher:   publisher,
		assignments: assignments,
		now:         time.Now,
		log:         log,
	}
}

// computeMessageID generates a deterministic message ID based on event content
// Uses SHA-256 hash of: user|type|event|timestamp
func computeMessageID(event *dto.PublishEventRequest) string {
	user := event.UserID
	if user == "" {
		user = event.AnonymousID
	}
	data := fmt.Sprintf("%s|%s|%s|%d",
		user,
		event.Type,
		event.Event,
		event.Timestamp,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ProcessEvent validates a single event and publishes it to the ingest queue
func (s *EventService) ProcessEvent(ctx context.Context, workspaceID string, event *dto.PublishEventRequest) (string, error) {
	if event.UserID == "" && event.AnonymousID == "" {
		return "", errMissingIdentity
	}
	if domain.EventType(event.Type) == domain.EventTypeTrack && event.Event == "" {
		return "", errMissingEventName
	}

	currentTime := s.now().UnixMilli()
	if event.Timestamp > currentTime+1000 {
		s.log.Warn("Timestamp validation failed: future timestamp",
			zap.Int64("event_timestamp", event.Timestamp),
			zap.Int64("current_time", currentTime),
			zap.String("event", event.Event))
		return "", fmt.Errorf("%w: timestamp cannot be in the future: %d > %d", ErrInvalidEvent, event.Timestamp, currentTime)
	}

	messageID := event.MessageID
	if messageID == "" {
		messageID = computeMessageID(event)
	}

	// identify traits are stored as the event's properties
	properties := event.Properties
	if domain.EventType(event.Type) == domain.EventTypeIdentify && len(event.Traits) > 0 {
		properties = event.Traits
	}

	msg := &dto.EventMessage{
		WorkspaceID: workspaceID,
		MessageID:   messageID,
		Type:        event.Type,
		Event:       event.Event,
		UserID:      event.UserID,
		AnonymousID: event.AnonymousID,
		Properties:  properties,
		Timestamp:   event.Timestamp,
	}

	if err := s.publisher.PublishEvent(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to publish event to queue: %w", err)
	}

	return messageID, nil
}

// ProcessBulkEvents validates and processes multiple events
func (s *EventService) ProcessBulkEvents(ctx context.Context, workspaceID string, events []dto.PublishEventRequest) ([]string, []string, error) {
	var messageIDs []string
	var errs []string

	for i := range events {
		messageID, err := s.ProcessEvent(ctx, workspaceID, &events[i])
		if err != nil {
			errs = append(errs, fmt.Sprintf("event %d: %s", i, err.Error()))
			s.log.Warn("Failed to process event in bulk",
				zap.Int("index", i),
				zap.Error(err),
				zap.String("event", events[i].Event))
			continue
		}
		messageIDs = append(messageIDs, messageID)
	}

	return messageIDs, errs, nil
}

// GetUserAssignments returns the latest computed property values of a user,
// keyed by computed property id
func (s *EventService) GetUserAssignments(ctx context.Context, workspaceID, userID string) (*dto.UserAssignmentsResponse, error) {
	assignments, err := s.assignments.FindUserAssignments(ctx, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user assignments: %w", err)
	}

	response := &dto.UserAssignmentsResponse{
		UserID:         userID,
		Segments:       make(map[string]bool),
		UserProperties: make(map[string]string),
	}
	for _, a := range assignments {
		switch a.Type {
		case domain.ComputedPropertyTypeSegment:
			response.Segments[a.ComputedPropertyID] = a.SegmentValue
		case domain.ComputedPropertyTypeUserProperty:
			response.UserProperties[a.ComputedPropertyID] = a.UserPropertyValue
		}
	}

	s.log.Debug("Loaded user assignments",
		zap.String("workspace_id", workspaceID),
		zap.String("user_id", userID),
		zap.Int("count", len(assignments)))

	return response, nil
}
