package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/dto"
)

var (
	errMissingWorkspace = errors.New("missing workspace_id")
	errMissingMessageID = errors.New("missing message_id")
	errMissingIdentity  = errors.New("missing user_id and anonymous_id")
	errMissingEventName = errors.New("track event requires an event name")
)

// JSONEventParser implements MessageParser for JSON-formatted event messages
type JSONEventParser struct {
	now func() time.Time
}

// NewJSONEventParser creates a new JSON event parser
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{now: func() time.Time { return time.Now().UTC() }}
}

// Parse parses a JSON message body into an Event
func (p *JSONEventParser) Parse(body []byte) (*domain.Event, error) {
	var msg dto.EventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}

	eventType := domain.EventType(msg.Type)
	switch {
	case msg.WorkspaceID == "":
		return nil, errMissingWorkspace
	case msg.MessageID == "":
		return nil, errMissingMessageID
	case msg.UserID == "" && msg.AnonymousID == "":
		return nil, errMissingIdentity
	case !eventType.Valid():
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	case eventType == domain.EventTypeTrack && msg.Event == "":
		return nil, errMissingEventName
	}

	properties := "{}"
	if len(msg.Properties) > 0 {
		b, err := json.Marshal(msg.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties: %w", err)
		}
		properties = string(b)
	}

	now := p.now()
	occurredAt := now
	if msg.Timestamp > 0 {
		occurredAt = time.UnixMilli(msg.Timestamp).UTC()
	}

	return &domain.Event{
		WorkspaceID:    msg.WorkspaceID,
		MessageID:      msg.MessageID,
		EventType:      eventType,
		Event:          msg.Event,
		UserID:         msg.UserID,
		AnonymousID:    msg.AnonymousID,
		Properties:     properties,
		OccurredAt:     occurredAt,
		ProcessingTime: now,
	}, nil
}
