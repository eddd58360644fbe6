package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventTypeIdentify EventType = "identify"
	EventTypeTrack    EventType = "track"
	EventTypePage     EventType = "page"
	EventTypeScreen   EventType = "screen"
)

// Valid reports whether t is an accepted event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeIdentify, EventTypeTrack, EventTypePage, EventTypeScreen:
		return true
	}
	return false
}

// Event represents an event stored in ClickHouse
type Event struct {
	WorkspaceID    string    `ch:"workspace_id"`
	MessageID      string    `ch:"message_id"`
	EventType      EventType `ch:"event_type"`
	Event          string    `ch:"event"`
	UserID         string    `ch:"user_id"`
	AnonymousID    string    `ch:"anonymous_id"`
	Properties     string    `ch:"properties"`
	OccurredAt     time.Time `ch:"event_time"`
	ProcessingTime time.Time `ch:"processing_time"`
}

// UserOrAnonymousID returns the identity computed properties are keyed by.
func (e *Event) UserOrAnonymousID() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.AnonymousID
}

// TrackEvent returns the subset of a track event used by keyed evaluation.
func (e *Event) TrackEvent() TrackEvent {
	props := json.RawMessage(e.Properties)
	if len(props) == 0 {
		props = json.RawMessage("{}")
	}
	return TrackEvent{
		MessageID:  e.MessageID,
		Event:      e.Event,
		Properties: props,
		Timestamp:  e.OccurredAt,
	}
}

// TrackEvent is a track event as seen by journeys.
type TrackEvent struct {
	MessageID  string          `json:"messageId"`
	Event      string          `json:"event"`
	Properties json.RawMessage `json:"properties"`
	Timestamp  time.Time       `json:"timestamp"`
}

// InternalEventType names the delivery-history events a journey writes back
// into the event table.
type InternalEventType string

const (
	InternalEventMessageSent               InternalEventType = "MessageSent"
	InternalEventMessageSkipped            InternalEventType = "MessageSkipped"
	InternalEventMessageFailure            InternalEventType = "MessageFailure"
	InternalEventBadWorkspaceConfiguration InternalEventType = "BadWorkspaceConfiguration"
)
