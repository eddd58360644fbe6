package dto

// PublishEventRequest represents a publish event request
type PublishEventRequest struct {
	MessageID   string         `json:"message_id"`
	Type        string         `json:"type" binding:"required,oneof=identify track page screen"`
	Event       string         `json:"event"`
	UserID      string         `json:"user_id"`
	AnonymousID string         `json:"anonymous_id"`
	Properties  map[string]any `json:"properties"`
	Traits      map[string]any `json:"traits"`
	Timestamp   int64          `json:"timestamp" binding:"required"`
}

// PublishEventsBulkRequest represents a publish bulk event request
type PublishEventsBulkRequest struct {
	Events []PublishEventRequest `json:"events" binding:"required,min=1,max=1000,dive"`
}

// EventMessage is the ingest queue message body. Timestamp is in unix
// milliseconds.
type EventMessage struct {
	WorkspaceID string         `json:"workspace_id"`
	MessageID   string         `json:"message_id"`
	Type        string         `json:"type"`
	Event       string         `json:"event,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	AnonymousID string         `json:"anonymous_id,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}
