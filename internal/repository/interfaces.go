package repository

import (
	"context"
	"errors"
	"time"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// ErrVersionConflict is returned when a journey instance was modified since
// it was loaded.
var ErrVersionConflict = errors.New("journey instance version conflict")

// EventRepository defines the interface for event storage operations
type EventRepository interface {
	// InsertBatch inserts a batch of events into the storage
	InsertBatch(ctx context.Context, events []*domain.Event) (int, error)

	// InitSchema initializes the database schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error
}

// StateTarget is one stateful unit of a definition: a user property, or a
// Trait/Performed leaf of a segment.
type StateTarget struct {
	Type               domain.ComputedPropertyType
	ComputedPropertyID string
	StateID            string
	UserProperty       domain.UserPropertyDefinition
	SegmentNode        domain.SegmentNode
}

// StateWindow bounds a state scan by processing time. A zero From scans from
// the beginning of the table.
type StateWindow struct {
	From time.Time
	To   time.Time
}

// UpdatedStateQuery selects the merged state of users whose state for the
// given state ids changed within (Since, To].
type UpdatedStateQuery struct {
	WorkspaceID        string
	Type               domain.ComputedPropertyType
	ComputedPropertyID string
	StateIDs           []string
	Since              time.Time
	To                 time.Time
}

// Subscriber is one downstream consumer of a computed property.
type Subscriber struct {
	ComputedPropertyID string
	Name               string
	Type               domain.SubscriberType
}

// ComputedPropertyRepository defines the analytical storage operations of the
// computed property sweep
type ComputedPropertyRepository interface {
	// ComputeState scans events in the window and appends one merged partial
	// state row per (target, user) for every target in the batch
	ComputeState(ctx context.Context, workspaceID string, targets []StateTarget, window StateWindow) error

	// FindUpdatedStates returns merged states for users touched since the given time
	FindUpdatedStates(ctx context.Context, query UpdatedStateQuery) ([]domain.ComputedPropertyState, error)

	// InsertAssignments appends assignment rows
	InsertAssignments(ctx context.Context, assignments []domain.Assignment) error

	// FindChangedAssignments returns, per subscriber, latest assignments whose
	// value differs from the last value processed for that subscriber
	FindChangedAssignments(ctx context.Context, workspaceID string, subscribers []Subscriber) ([]domain.ChangedAssignment, error)

	// InsertProcessedAssignments records dispatched values
	InsertProcessedAssignments(ctx context.Context, processed []domain.ProcessedAssignment) error

	// FindUserAssignments returns the latest assignments of one user
	FindUserAssignments(ctx context.Context, workspaceID, userID string) ([]domain.Assignment, error)
}

// ResourceRepository reads definitions and collaborator resources from the
// relational store
type ResourceRepository interface {
	// ListWorkspaceIDs returns every workspace with at least one definition
	ListWorkspaceIDs(ctx context.Context) ([]string, error)

	// LoadResources returns the workspace snapshot a sweep works from. Malformed
	// definitions are skipped.
	LoadResources(ctx context.Context, workspaceID string) (*domain.Resources, error)

	// GetJourney returns nil when the journey does not exist
	GetJourney(ctx context.Context, workspaceID, journeyID string) (*domain.Journey, error)

	// GetSegment returns nil when the segment does not exist
	GetSegment(ctx context.Context, workspaceID, segmentID string) (*domain.Segment, error)

	// GetMessageTemplate returns nil when the template does not exist
	GetMessageTemplate(ctx context.Context, workspaceID, templateID string) (*domain.MessageTemplate, error)

	// GetSubscriptionGroup returns nil when the group does not exist
	GetSubscriptionGroup(ctx context.Context, workspaceID, groupID string) (*domain.SubscriptionGroup, error)
}

// PeriodRepository tracks processed windows per definition and step
type PeriodRepository interface {
	// LatestPeriods returns the most recent period per computed property id
	LatestPeriods(ctx context.Context, workspaceID string, step domain.ComputedPropertyStep) (map[string]domain.ComputedPropertyPeriod, error)

	// InsertPeriods records periods atomically
	InsertPeriods(ctx context.Context, periods []domain.ComputedPropertyPeriod) error
}

// AssignmentProjectionRepository keeps relational copies of assignments for
// lookups at journey traversal and send time
type AssignmentProjectionRepository interface {
	// ApplyAssignments upserts the projected value of each assignment
	ApplyAssignments(ctx context.Context, assignments []domain.Assignment) error

	// GetSegmentAssignment returns nil when the user has no assignment
	GetSegmentAssignment(ctx context.Context, workspaceID, userID, segmentID string) (*domain.SegmentAssignmentRecord, error)

	// GetUserPropertyValues returns the user's property values keyed by user property name
	GetUserPropertyValues(ctx context.Context, workspaceID, userID string) (map[string]string, error)
}

// JourneyInstanceRepository persists durable journey instances and their
// node ledger
type JourneyInstanceRepository interface {
	// GetInstance returns nil when the instance does not exist
	GetInstance(ctx context.Context, workflowID string) (*domain.JourneyInstance, error)

	// SaveInstance writes the instance if its stored version still equals
	// expectedVersion, returning ErrVersionConflict otherwise. Version 0
	// creates the row.
	SaveInstance(ctx context.Context, instance *domain.JourneyInstance, expectedVersion int64) error

	// DueInstances returns waiting instances whose timer is at or before now
	DueInstances(ctx context.Context, now time.Time, limit int) ([]domain.JourneyInstance, error)

	// ActiveInstances returns the non-terminal instances of a journey
	ActiveInstances(ctx context.Context, workspaceID, journeyID string) ([]domain.JourneyInstance, error)

	// RecordNodeProcessed inserts a ledger row, ignoring duplicates
	RecordNodeProcessed(ctx context.Context, event domain.UserJourneyEvent) error

	// NodeProcessed reports whether a run already processed a node
	NodeProcessed(ctx context.Context, workflowID string, journeyStartedAt time.Time, nodeID string) (bool, error)

	// HasExited reports whether any run of the instance reached its exit node
	HasExited(ctx context.Context, workflowID string) (bool, error)
}
