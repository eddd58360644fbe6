package domain

import (
	"fmt"
	"strings"
	"time"
)

// InstanceKey identifies one durable journey instance. EventKey and
// EventKeyValue are set for event-keyed journeys only.
type InstanceKey struct {
	WorkspaceID   string `json:"workspaceId"`
	JourneyID     string `json:"journeyId"`
	UserID        string `json:"userId"`
	EventKey      string `json:"eventKey,omitempty"`
	EventKeyValue string `json:"eventKeyValue,omitempty"`
}

// WorkflowID is the stable id of the instance.
func (k InstanceKey) WorkflowID() string {
	id := fmt.Sprintf("user-journey-%s-%s", k.JourneyID, k.UserID)
	if k.EventKey != "" {
		id = fmt.Sprintf("%s-%s-%s", id, k.EventKey, k.EventKeyValue)
	}
	return id
}

// IntegrationWorkflowID is the instance id integration changes are delivered to.
func IntegrationWorkflowID(workspaceID, integration, userID string) string {
	return strings.Join([]string{"integration", integration, workspaceID, userID}, ":")
}

type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "Running"
	InstanceWaiting   InstanceStatus = "Waiting"
	InstanceExited    InstanceStatus = "Exited"
	InstanceCancelled InstanceStatus = "Cancelled"
)

// Terminal reports whether the instance can no longer make progress.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceExited || s == InstanceCancelled
}

// JourneyInstance is the persisted row of a durable journey instance. State
// holds the encoded continuation, WakeAt the pending timer if any.
type JourneyInstance struct {
	WorkflowID string
	Key        InstanceKey
	Status     InstanceStatus
	WakeAt     *time.Time
	State      []byte
	Version    int64
	UpdatedAt  time.Time
}

// UserJourneyEvent records that a run of a journey processed a node.
type UserJourneyEvent struct {
	WorkspaceID      string
	JourneyID        string
	UserID           string
	WorkflowID       string
	JourneyStartedAt time.Time
	NodeType         JourneyNodeType
	NodeID           string
	CreatedAt        time.Time
}
