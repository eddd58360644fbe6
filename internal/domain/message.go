package domain

// MessageRequest is one message node send on behalf of a journey run.
type MessageRequest struct {
	WorkspaceID         string
	JourneyID           string
	WorkflowID          string
	RunID               string
	NodeID              string
	UserID              string
	TemplateID          string
	Channel             ChannelType
	SubscriptionGroupID string
}

// MessageResult is the recorded outcome of a send attempt. Every outcome lets
// the journey continue.
type MessageResult struct {
	Outcome InternalEventType
	Reason  string
}
