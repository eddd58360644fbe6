package relational

import (
	"time"

	"gorm.io/datatypes"
)

type SegmentModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	WorkspaceID string `gorm:"size:64;not null;index"`
	Name        string `gorm:"not null"`
	Definition  datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SegmentModel) TableName() string { return "segments" }

type UserPropertyModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	WorkspaceID string `gorm:"size:64;not null;index;uniqueIndex:idx_user_property_name"`
	Name        string `gorm:"not null;uniqueIndex:idx_user_property_name"`
	Definition  datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UserPropertyModel) TableName() string { return "user_properties" }

type JourneyModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	WorkspaceID string `gorm:"size:64;not null;index"`
	Name        string `gorm:"not null"`
	Status      string `gorm:"size:32;not null;default:NotStarted"`
	Definition  datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (JourneyModel) TableName() string { return "journeys" }

type IntegrationModel struct {
	WorkspaceID              string `gorm:"primaryKey;size:64"`
	Name                     string `gorm:"primaryKey;size:128"`
	Enabled                  bool
	SubscribedSegments       datatypes.JSONSlice[string]
	SubscribedUserProperties datatypes.JSONSlice[string]
	UpdatedAt                time.Time
}

func (IntegrationModel) TableName() string { return "integrations" }

type SubscriptionGroupModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	WorkspaceID string `gorm:"size:64;not null;index"`
	Name        string `gorm:"not null"`
	Type        string `gorm:"size:16;not null"`
	Channel     string `gorm:"size:32;not null"`
	SegmentID   string `gorm:"size:64"`
	UpdatedAt   time.Time
}

func (SubscriptionGroupModel) TableName() string { return "subscription_groups" }

type MessageTemplateModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	WorkspaceID string `gorm:"size:64;not null;index"`
	Name        string `gorm:"not null"`
	Channel     string `gorm:"size:32;not null"`
	Subject     string
	Body        string
	UpdatedAt   time.Time
}

func (MessageTemplateModel) TableName() string { return "message_templates" }

type ComputedPropertyPeriodModel struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement"`
	WorkspaceID        string    `gorm:"size:64;not null;index:idx_period_lookup,priority:1"`
	Step               string    `gorm:"size:32;not null;index:idx_period_lookup,priority:2"`
	ComputedPropertyID string    `gorm:"size:64;not null;index:idx_period_lookup,priority:3"`
	Type               string    `gorm:"size:16;not null"`
	Version            string    `gorm:"size:64;not null"`
	PeriodFrom         time.Time `gorm:"not null"`
	PeriodTo           time.Time `gorm:"not null;index:idx_period_lookup,priority:4"`
	CreatedAt          time.Time
}

func (ComputedPropertyPeriodModel) TableName() string { return "computed_property_periods" }

type SegmentAssignmentModel struct {
	WorkspaceID string `gorm:"primaryKey;size:64"`
	UserID      string `gorm:"primaryKey;size:191"`
	SegmentID   string `gorm:"primaryKey;size:64"`
	InSegment   bool
	UpdatedAt   time.Time
}

func (SegmentAssignmentModel) TableName() string { return "segment_assignments" }

type UserPropertyAssignmentModel struct {
	WorkspaceID    string `gorm:"primaryKey;size:64"`
	UserID         string `gorm:"primaryKey;size:191"`
	UserPropertyID string `gorm:"primaryKey;size:64"`
	Value          string
	UpdatedAt      time.Time
}

func (UserPropertyAssignmentModel) TableName() string { return "user_property_assignments" }

type JourneyInstanceModel struct {
	WorkflowID    string     `gorm:"primaryKey;size:255"`
	WorkspaceID   string     `gorm:"size:64;not null;index:idx_instance_journey,priority:1"`
	JourneyID     string     `gorm:"size:64;not null;index:idx_instance_journey,priority:2"`
	UserID        string     `gorm:"size:191;not null"`
	EventKey      string     `gorm:"size:128"`
	EventKeyValue string     `gorm:"size:191"`
	Status        string     `gorm:"size:16;not null;index:idx_instance_wake,priority:1"`
	WakeAt        *time.Time `gorm:"index:idx_instance_wake,priority:2"`
	State         datatypes.JSON
	Version       int64 `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (JourneyInstanceModel) TableName() string { return "journey_instances" }

type UserJourneyEventModel struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	WorkspaceID      string    `gorm:"size:64;not null"`
	JourneyID        string    `gorm:"size:64;not null;index"`
	UserID           string    `gorm:"size:191;not null"`
	WorkflowID       string    `gorm:"size:255;not null;uniqueIndex:idx_user_journey_event,priority:1"`
	JourneyStartedAt time.Time `gorm:"not null;uniqueIndex:idx_user_journey_event,priority:2"`
	NodeType         string    `gorm:"size:32;not null;uniqueIndex:idx_user_journey_event,priority:3"`
	NodeID           string    `gorm:"size:128;not null;uniqueIndex:idx_user_journey_event,priority:4"`
	CreatedAt        time.Time
}

func (UserJourneyEventModel) TableName() string { return "user_journey_events" }
