package domain

type SubscriptionGroupType string

const (
	SubscriptionGroupOptIn  SubscriptionGroupType = "OptIn"
	SubscriptionGroupOptOut SubscriptionGroupType = "OptOut"
)

// SubscriptionGroup gates message delivery on membership of its segment.
type SubscriptionGroup struct {
	ID          string
	WorkspaceID string
	Name        string
	Type        SubscriptionGroupType
	Channel     ChannelType
	SegmentID   string
}

// MessageTemplate is a stored template. Rendering happens in the provider.
type MessageTemplate struct {
	ID          string
	WorkspaceID string
	Name        string
	Channel     ChannelType
	Subject     string
	Body        string
}

// Integration is an external sync target subscribed to computed properties.
type Integration struct {
	Name                     string
	WorkspaceID              string
	Enabled                  bool
	SubscribedSegments       []string
	SubscribedUserProperties []string
}

// SegmentAssignmentRecord is the relational projection of a segment
// assignment.
type SegmentAssignmentRecord struct {
	WorkspaceID string
	UserID      string
	SegmentID   string
	InSegment   bool
}

// Resources is the snapshot of definitions a sweep works from.
type Resources struct {
	WorkspaceID    string
	Segments       []Segment
	UserProperties []UserProperty
	Journeys       []Journey
	Integrations   []Integration
}
