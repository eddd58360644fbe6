package service

import (
	"context"

	"github.com/BarkinBalci/engagement-engine/internal/dto"
)

// EventServicer defines the interface for event service operations
type EventServicer interface {
	ProcessEvent(ctx context.Context, workspaceID string, event *dto.PublishEventRequest) (string, error)
	ProcessBulkEvents(ctx context.Context, workspaceID string, events []dto.PublishEventRequest) ([]string, []string, error)
	GetUserAssignments(ctx context.Context, workspaceID, userID string) (*dto.UserAssignmentsResponse, error)
}
