package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// PublishEventResponse represents a successful event ingestion response
type PublishEventResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// PublishBulkEventsResponse represents a successful bulk event ingestion response
type PublishBulkEventsResponse struct {
	Accepted   int      `json:"accepted"`
	Rejected   int      `json:"rejected"`
	MessageIDs []string `json:"message_ids,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// UserAssignmentsResponse lists a user's latest computed property values
type UserAssignmentsResponse struct {
	UserID         string            `json:"user_id"`
	Segments       map[string]bool   `json:"segments"`
	UserProperties map[string]string `json:"user_properties"`
}
