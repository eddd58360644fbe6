// Package messaging sends journey message nodes. Every attempt ends in one
// recorded outcome and never fails the journey.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

// Service checks a send request against workspace configuration and the
// user's subscription state, then hands it to the channel's provider.
type Service struct {
	resources  repository.ResourceRepository
	projection repository.AssignmentProjectionRepository
	events     repository.EventRepository
	providers  map[domain.ChannelType]Provider
	now        func() time.Time
	log        *zap.Logger
}

// NewService creates a new message service
func NewService(
	resources repository.ResourceRepository,
	projection repository.AssignmentProjectionRepository,
	events repository.EventRepository,
	providers map[domain.ChannelType]Provider,
	log *zap.Logger,
) *Service {
	return &Service{
		resources:  resources,
		projection: projection,
		events:     events,
		providers:  providers,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Send runs the pre-send checks, delivers the message and records the outcome
// as an internal track event for the user.
func (s *Service) Send(ctx context.Context, req domain.MessageRequest) domain.MessageResult {
	result := s.send(ctx, req)

	s.log.Info("Message send attempted",
		zap.String("workspace_id", req.WorkspaceID),
		zap.String("journey_id", req.JourneyID),
		zap.String("node_id", req.NodeID),
		zap.String("user_id", req.UserID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason))

	s.track(ctx, req, result)
	return result
}

func (s *Service) send(ctx context.Context, req domain.MessageRequest) domain.MessageResult {
	tpl, err := s.resources.GetMessageTemplate(ctx, req.WorkspaceID, req.TemplateID)
	if err != nil {
		return failure(err)
	}
	if tpl == nil {
		return badConfiguration("template %s not found", req.TemplateID)
	}

	journey, err := s.resources.GetJourney(ctx, req.WorkspaceID, req.JourneyID)
	if err != nil {
		return failure(err)
	}
	if journey == nil {
		return badConfiguration("journey %s not found", req.JourneyID)
	}

	if req.SubscriptionGroupID != "" {
		group, err := s.resources.GetSubscriptionGroup(ctx, req.WorkspaceID, req.SubscriptionGroupID)
		if err != nil {
			return failure(err)
		}
		if group == nil {
			return badConfiguration("subscription group %s not found", req.SubscriptionGroupID)
		}
		subscribed, err := s.subscribed(ctx, req.UserID, group)
		if err != nil {
			return failure(err)
		}
		if !subscribed {
			return skipped("user is not subscribed to %s", group.Name)
		}
	}

	if journey.Status != domain.JourneyRunning {
		return skipped("journey is %s", journey.Status)
	}

	properties, err := s.projection.GetUserPropertyValues(ctx, req.WorkspaceID, req.UserID)
	if err != nil {
		return failure(err)
	}
	identifier := req.Channel.Identifier()
	to := domain.PropertyString(properties[identifier])
	if to == "" {
		return badConfiguration("user has no %s", identifier)
	}

	provider, ok := s.providers[req.Channel]
	if !ok {
		return badConfiguration("no provider for channel %s", req.Channel)
	}

	subject, body, err := render(tpl, properties)
	if err != nil {
		return badConfiguration("%v", err)
	}

	err = provider.Send(ctx, Outbound{
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Channel:     req.Channel,
		TemplateID:  req.TemplateID,
		To:          to,
		Subject:     subject,
		Body:        body,
	})
	switch {
	case errors.Is(err, ErrProviderNotConfigured):
		return badConfiguration("%v", err)
	case err != nil:
		return failure(err)
	}
	return domain.MessageResult{Outcome: domain.InternalEventMessageSent}
}

// subscribed resolves the user's state in a subscription group. Opt-in groups
// require membership; opt-out groups exclude only users explicitly out.
func (s *Service) subscribed(ctx context.Context, userID string, group *domain.SubscriptionGroup) (bool, error) {
	a, err := s.projection.GetSegmentAssignment(ctx, group.WorkspaceID, userID, group.SegmentID)
	if err != nil {
		return false, err
	}
	if group.Type == domain.SubscriptionGroupOptIn {
		return a != nil && a.InSegment, nil
	}
	return a == nil || a.InSegment, nil
}

// track writes the outcome into the event table. A failed write is logged;
// the send itself already happened.
func (s *Service) track(ctx context.Context, req domain.MessageRequest, result domain.MessageResult) {
	props, err := json.Marshal(map[string]string{
		"journeyId":  req.JourneyID,
		"nodeId":     req.NodeID,
		"runId":      req.RunID,
		"templateId": req.TemplateID,
		"channel":    string(req.Channel),
		"reason":     result.Reason,
	})
	if err != nil {
		s.log.Error("Failed to marshal message event", zap.Error(err))
		return
	}

	now := s.now()
	event := &domain.Event{
		WorkspaceID:    req.WorkspaceID,
		MessageID:      domain.SignalID(req.WorkflowID, req.RunID, req.NodeID, string(result.Outcome)),
		EventType:      domain.EventTypeTrack,
		Event:          string(result.Outcome),
		UserID:         req.UserID,
		Properties:     string(props),
		OccurredAt:     now,
		ProcessingTime: now,
	}
	if _, err := s.events.InsertBatch(ctx, []*domain.Event{event}); err != nil {
		s.log.Warn("Failed to record message event",
			zap.String("workflow_id", req.WorkflowID),
			zap.String("node_id", req.NodeID),
			zap.Error(err))
	}
}

func badConfiguration(format string, args ...any) domain.MessageResult {
	return domain.MessageResult{
		Outcome: domain.InternalEventBadWorkspaceConfiguration,
		Reason:  fmt.Sprintf(format, args...),
	}
}

func skipped(format string, args ...any) domain.MessageResult {
	return domain.MessageResult{
		Outcome: domain.InternalEventMessageSkipped,
		Reason:  fmt.Sprintf(format, args...),
	}
}

func failure(err error) domain.MessageResult {
	return domain.MessageResult{
		Outcome: domain.InternalEventMessageFailure,
		Reason:  err.Error(),
	}
}
