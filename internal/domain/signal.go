package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type SignalType string

const (
	SignalSegmentUpdate      SignalType = "SegmentUpdate"
	SignalUserPropertyUpdate SignalType = "UserPropertyUpdate"
	SignalTrackEvent         SignalType = "TrackEvent"
	SignalCancel             SignalType = "Cancel"
)

// Signal is a message addressed to one durable instance. Redelivered signals
// carry the same ID.
type Signal struct {
	ID           string              `json:"id"`
	Type         SignalType          `json:"type"`
	WorkflowID   string              `json:"workflowId"`
	Key          InstanceKey         `json:"key"`
	Integration  string              `json:"integration,omitempty"`
	Segment      *SegmentUpdate      `json:"segment,omitempty"`
	UserProperty *UserPropertyUpdate `json:"userProperty,omitempty"`
	Event        *TrackEvent         `json:"event,omitempty"`
	SentAt       time.Time           `json:"sentAt"`
}

type SegmentUpdate struct {
	SegmentID string `json:"segmentId"`
	InSegment bool   `json:"inSegment"`
}

type UserPropertyUpdate struct {
	UserPropertyID string `json:"userPropertyId"`
	Value          string `json:"value"`
}

var signalNamespace = uuid.MustParse("0d6a3c1e-5b7f-4e0a-8c2d-97a4e1f3b6c5")

// SignalID derives a stable signal id from the parts identifying the change.
func SignalID(parts ...string) string {
	return uuid.NewSHA1(signalNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

// ChangeSignal builds the signal delivering a changed assignment to a journey
// or integration subscriber.
func ChangeSignal(c ChangedAssignment, sentAt time.Time) Signal {
	s := Signal{
		Key: InstanceKey{
			WorkspaceID: c.WorkspaceID,
			UserID:      c.UserID,
		},
		SentAt: sentAt,
	}

	var value string
	switch c.Type {
	case ComputedPropertyTypeSegment:
		s.Type = SignalSegmentUpdate
		s.Segment = &SegmentUpdate{SegmentID: c.ComputedPropertyID, InSegment: c.SegmentValue}
		if c.SegmentValue {
			value = "true"
		} else {
			value = "false"
		}
	case ComputedPropertyTypeUserProperty:
		s.Type = SignalUserPropertyUpdate
		s.UserProperty = &UserPropertyUpdate{UserPropertyID: c.ComputedPropertyID, Value: c.UserPropertyValue}
		value = c.UserPropertyValue
	}

	switch c.ProcessedForType {
	case SubscriberJourney:
		s.Key.JourneyID = c.ProcessedFor
		s.WorkflowID = s.Key.WorkflowID()
	case SubscriberIntegration:
		s.Integration = c.ProcessedFor
		s.WorkflowID = IntegrationWorkflowID(c.WorkspaceID, c.ProcessedFor, c.UserID)
	}

	s.ID = SignalID(s.WorkflowID, c.ComputedPropertyID, value, c.AssignedAt.UTC().Format(time.RFC3339Nano))
	return s
}

// TrackEventSignal builds the signal delivering a track event to an
// event-keyed journey instance.
func TrackEventSignal(key InstanceKey, event TrackEvent, sentAt time.Time) Signal {
	workflowID := key.WorkflowID()
	return Signal{
		ID:         SignalID(workflowID, "event", event.MessageID),
		Type:       SignalTrackEvent,
		WorkflowID: workflowID,
		Key:        key,
		Event:      &event,
		SentAt:     sentAt,
	}
}

// CancelSignal builds the signal cancelling one instance.
func CancelSignal(key InstanceKey, sentAt time.Time) Signal {
	workflowID := key.WorkflowID()
	return Signal{
		ID:         SignalID(workflowID, "cancel", sentAt.UTC().Format(time.RFC3339Nano)),
		Type:       SignalCancel,
		WorkflowID: workflowID,
		Key:        key,
		SentAt:     sentAt,
	}
}
