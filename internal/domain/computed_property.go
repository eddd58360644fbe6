package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ComputedPropertyType string

const (
	ComputedPropertyTypeSegment      ComputedPropertyType = "Segment"
	ComputedPropertyTypeUserProperty ComputedPropertyType = "UserProperty"
)

// ComputedPropertyStep is a stage of the incremental sweep. Each stage keeps
// its own period watermark per definition.
type ComputedPropertyStep string

const (
	StepComputeState       ComputedPropertyStep = "ComputeState"
	StepWriteAssignments   ComputedPropertyStep = "WriteAssignments"
	StepProcessAssignments ComputedPropertyStep = "ProcessAssignments"
)

// SubscriberType is the kind of downstream consumer a change is dispatched to.
type SubscriberType string

const (
	SubscriberJourney     SubscriberType = "journey"
	SubscriberIntegration SubscriberType = "integration"
	SubscriberStore       SubscriberType = "pg"
)

// StoreSubscriberName is the single subscriber that keeps the relational
// projections in sync.
const StoreSubscriberName = "pg"

var stateNamespace = uuid.MustParse("6f0f6f2e-8d4b-4c52-9a53-0b7c1c4f2a10")

// DefinitionVersion derives the version of a definition from its id and last
// update time. Editing a definition yields a new version and a fresh state.
func DefinitionVersion(id string, updatedAt time.Time) string {
	return uuid.NewSHA1(stateNamespace, []byte(fmt.Sprintf("%s:%d", id, updatedAt.UnixMilli()))).String()
}

// StateID derives the state id of one stateful node of a definition version.
// User properties use an empty node id.
func StateID(version, nodeID string) string {
	if nodeID == "" {
		return version
	}
	return uuid.NewSHA1(stateNamespace, []byte(version+":"+nodeID)).String()
}

// ComputedPropertyPeriod records a processed [From, To) window for one step of
// one definition version.
type ComputedPropertyPeriod struct {
	WorkspaceID        string
	Type               ComputedPropertyType
	ComputedPropertyID string
	Version            string
	Step               ComputedPropertyStep
	From               time.Time
	To                 time.Time
}

// ComputedPropertyState is a merged partial aggregate for one user.
type ComputedPropertyState struct {
	UserID       string
	StateID      string
	LastValue    string
	UniqueCount  uint64
	MaxEventTime time.Time
}

// Assignment is the resolved value of a computed property for one user.
type Assignment struct {
	WorkspaceID        string
	Type               ComputedPropertyType
	ComputedPropertyID string
	UserID             string
	SegmentValue       bool
	UserPropertyValue  string
	MaxEventTime       time.Time
	AssignedAt         time.Time
}

// ProcessedAssignment records the last value dispatched to a subscriber.
type ProcessedAssignment struct {
	WorkspaceID        string
	UserID             string
	Type               ComputedPropertyType
	ComputedPropertyID string
	ProcessedFor       string
	ProcessedForType   SubscriberType
	SegmentValue       bool
	UserPropertyValue  string
	MaxEventTime       time.Time
	ProcessedAt        time.Time
}

// ChangedAssignment is a latest assignment whose value differs from what the
// subscriber last saw.
type ChangedAssignment struct {
	Assignment
	ProcessedFor        string
	ProcessedForType    SubscriberType
	PreviouslyProcessed bool
}

// Processed returns the ledger row recording that c was dispatched.
func (c ChangedAssignment) Processed(at time.Time) ProcessedAssignment {
	return ProcessedAssignment{
		WorkspaceID:        c.WorkspaceID,
		UserID:             c.UserID,
		Type:               c.Type,
		ComputedPropertyID: c.ComputedPropertyID,
		ProcessedFor:       c.ProcessedFor,
		ProcessedForType:   c.ProcessedForType,
		SegmentValue:       c.SegmentValue,
		UserPropertyValue:  c.UserPropertyValue,
		MaxEventTime:       c.MaxEventTime,
		ProcessedAt:        at,
	}
}
