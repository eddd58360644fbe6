package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// MockResources is a mock implementation of repository.ResourceRepository
type MockResources struct {
	mock.Mock
}

func (m *MockResources) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockResources) LoadResources(ctx context.Context, workspaceID string) (*domain.Resources, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Resources), args.Error(1)
}

func (m *MockResources) GetJourney(ctx context.Context, workspaceID, journeyID string) (*domain.Journey, error) {
	args := m.Called(ctx, workspaceID, journeyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Journey), args.Error(1)
}

func (m *MockResources) GetSegment(ctx context.Context, workspaceID, segmentID string) (*domain.Segment, error) {
	args := m.Called(ctx, workspaceID, segmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Segment), args.Error(1)
}

func (m *MockResources) GetMessageTemplate(ctx context.Context, workspaceID, templateID string) (*domain.MessageTemplate, error) {
	args := m.Called(ctx, workspaceID, templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageTemplate), args.Error(1)
}

func (m *MockResources) GetSubscriptionGroup(ctx context.Context, workspaceID, groupID string) (*domain.SubscriptionGroup, error) {
	args := m.Called(ctx, workspaceID, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SubscriptionGroup), args.Error(1)
}

// MockProjection is a mock implementation of repository.AssignmentProjectionRepository
type MockProjection struct {
	mock.Mock
}

func (m *MockProjection) ApplyAssignments(ctx context.Context, assignments []domain.Assignment) error {
	args := m.Called(ctx, assignments)
	return args.Error(0)
}

func (m *MockProjection) GetSegmentAssignment(ctx context.Context, workspaceID, userID, segmentID string) (*domain.SegmentAssignmentRecord, error) {
	args := m.Called(ctx, workspaceID, userID, segmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SegmentAssignmentRecord), args.Error(1)
}

func (m *MockProjection) GetUserPropertyValues(ctx context.Context, workspaceID, userID string) (map[string]string, error) {
	args := m.Called(ctx, workspaceID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// MockEvents is a mock implementation of repository.EventRepository
type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockEvents) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEvents) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEvents) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockProvider is a mock implementation of Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Send(ctx context.Context, msg Outbound) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

var emailRequest = domain.MessageRequest{
	WorkspaceID:         "ws-1",
	JourneyID:           "journey-1",
	WorkflowID:          "user-journey-journey-1-user-1",
	RunID:               "1709294400000",
	NodeID:              "welcome",
	UserID:              "user-1",
	TemplateID:          "tpl-1",
	Channel:             domain.ChannelEmail,
	SubscriptionGroupID: "newsletter",
}

type serviceFixture struct {
	resources  *MockResources
	projection *MockProjection
	events     *MockEvents
	provider   *MockProvider
	service    *Service
}

// newServiceFixture wires a workspace where every check passes
func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		resources:  new(MockResources),
		projection: new(MockProjection),
		events:     new(MockEvents),
		provider:   new(MockProvider),
	}
	f.resources.On("GetMessageTemplate", mock.Anything, "ws-1", "tpl-1").Return(&domain.MessageTemplate{
		ID: "tpl-1", WorkspaceID: "ws-1", Channel: domain.ChannelEmail,
		Subject: "Welcome {{.user.firstName}}", Body: "Hi {{.user.firstName}}, your plan is {{.user.plan}}.",
	}, nil).Maybe()
	f.resources.On("GetJourney", mock.Anything, "ws-1", "journey-1").Return(&domain.Journey{
		ID: "journey-1", WorkspaceID: "ws-1", Status: domain.JourneyRunning,
	}, nil).Maybe()
	f.resources.On("GetSubscriptionGroup", mock.Anything, "ws-1", "newsletter").Return(&domain.SubscriptionGroup{
		ID: "newsletter", WorkspaceID: "ws-1", Name: "Newsletter", Type: domain.SubscriptionGroupOptOut, SegmentID: "seg-newsletter",
	}, nil).Maybe()
	f.projection.On("GetSegmentAssignment", mock.Anything, "ws-1", "user-1", "seg-newsletter").Return(nil, nil).Maybe()
	f.projection.On("GetUserPropertyValues", mock.Anything, "ws-1", "user-1").Return(map[string]string{
		"email":     `"jane@example.com"`,
		"firstName": `"Jane"`,
		"plan":      `"pro"`,
	}, nil).Maybe()
	f.events.On("InsertBatch", mock.Anything, mock.Anything).Return(1, nil).Maybe()

	f.service = NewService(f.resources, f.projection, f.events,
		map[domain.ChannelType]Provider{domain.ChannelEmail: f.provider}, zap.NewNop())
	return f
}

func (f *serviceFixture) recordedEvent(t *testing.T) *domain.Event {
	t.Helper()
	for _, call := range f.events.Calls {
		if call.Method == "InsertBatch" {
			events := call.Arguments.Get(1).([]*domain.Event)
			require.Len(t, events, 1)
			return events[0]
		}
	}
	t.Fatal("no message event recorded")
	return nil
}

func TestService_Send_Sent(t *testing.T) {
	f := newServiceFixture()
	f.provider.On("Send", mock.Anything, Outbound{
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Channel:     domain.ChannelEmail,
		TemplateID:  "tpl-1",
		To:          "jane@example.com",
		Subject:     "Welcome Jane",
		Body:        "Hi Jane, your plan is pro.",
	}).Return(nil)

	result := f.service.Send(context.Background(), emailRequest)

	assert.Equal(t, domain.InternalEventMessageSent, result.Outcome)
	f.provider.AssertExpectations(t)

	event := f.recordedEvent(t)
	assert.Equal(t, domain.EventTypeTrack, event.EventType)
	assert.Equal(t, "MessageSent", event.Event)
	assert.Equal(t, "user-1", event.UserID)
	assert.NotEmpty(t, event.MessageID)

	var props map[string]string
	require.NoError(t, json.Unmarshal([]byte(event.Properties), &props))
	assert.Equal(t, "journey-1", props["journeyId"])
	assert.Equal(t, "welcome", props["nodeId"])
	assert.Equal(t, "tpl-1", props["templateId"])
	assert.Equal(t, "1709294400000", props["runId"])
}

func TestService_Send_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *serviceFixture)
		req     func(req domain.MessageRequest) domain.MessageRequest
		outcome domain.InternalEventType
	}{
		{
			name: "missing template",
			req: func(req domain.MessageRequest) domain.MessageRequest {
				req.TemplateID = "tpl-missing"
				return req
			},
			setup: func(f *serviceFixture) {
				f.resources.On("GetMessageTemplate", mock.Anything, "ws-1", "tpl-missing").Return(nil, nil)
			},
			outcome: domain.InternalEventBadWorkspaceConfiguration,
		},
		{
			name: "missing subscription group",
			req: func(req domain.MessageRequest) domain.MessageRequest {
				req.SubscriptionGroupID = "gone"
				return req
			},
			setup: func(f *serviceFixture) {
				f.resources.On("GetSubscriptionGroup", mock.Anything, "ws-1", "gone").Return(nil, nil)
			},
			outcome: domain.InternalEventBadWorkspaceConfiguration,
		},
		{
			name: "opted out",
			setup: func(f *serviceFixture) {
				f.projection.ExpectedCalls = nil
				f.projection.On("GetSegmentAssignment", mock.Anything, "ws-1", "user-1", "seg-newsletter").
					Return(&domain.SegmentAssignmentRecord{InSegment: false}, nil)
			},
			outcome: domain.InternalEventMessageSkipped,
		},
		{
			name: "opt-in group without membership",
			setup: func(f *serviceFixture) {
				f.resources.ExpectedCalls = nil
				f.resources.On("GetMessageTemplate", mock.Anything, "ws-1", "tpl-1").
					Return(&domain.MessageTemplate{ID: "tpl-1", Body: "hi"}, nil)
				f.resources.On("GetJourney", mock.Anything, "ws-1", "journey-1").
					Return(&domain.Journey{ID: "journey-1", Status: domain.JourneyRunning}, nil)
				f.resources.On("GetSubscriptionGroup", mock.Anything, "ws-1", "newsletter").
					Return(&domain.SubscriptionGroup{ID: "newsletter", WorkspaceID: "ws-1", Type: domain.SubscriptionGroupOptIn, SegmentID: "seg-newsletter"}, nil)
			},
			outcome: domain.InternalEventMessageSkipped,
		},
		{
			name: "journey paused",
			setup: func(f *serviceFixture) {
				f.resources.ExpectedCalls = nil
				f.resources.On("GetMessageTemplate", mock.Anything, "ws-1", "tpl-1").
					Return(&domain.MessageTemplate{ID: "tpl-1", Body: "hi"}, nil)
				f.resources.On("GetJourney", mock.Anything, "ws-1", "journey-1").
					Return(&domain.Journey{ID: "journey-1", Status: domain.JourneyPaused}, nil)
			},
			req: func(req domain.MessageRequest) domain.MessageRequest {
				req.SubscriptionGroupID = ""
				return req
			},
			outcome: domain.InternalEventMessageSkipped,
		},
		{
			name: "missing identifier",
			req: func(req domain.MessageRequest) domain.MessageRequest {
				req.Channel = domain.ChannelSms
				return req
			},
			outcome: domain.InternalEventBadWorkspaceConfiguration,
		},
		{
			name: "provider error",
			setup: func(f *serviceFixture) {
				f.provider.On("Send", mock.Anything, mock.Anything).Return(errors.New("throttled"))
			},
			outcome: domain.InternalEventMessageFailure,
		},
		{
			name: "provider not configured",
			setup: func(f *serviceFixture) {
				f.provider.On("Send", mock.Anything, mock.Anything).Return(ErrProviderNotConfigured)
			},
			outcome: domain.InternalEventBadWorkspaceConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			req := emailRequest
			if tt.req != nil {
				req = tt.req(req)
			}

			result := f.service.Send(context.Background(), req)

			assert.Equal(t, tt.outcome, result.Outcome)
			assert.NotEmpty(t, result.Reason)
			assert.Equal(t, string(tt.outcome), f.recordedEvent(t).Event)
		})
	}
}

func TestService_Send_NoProviderForChannel(t *testing.T) {
	f := newServiceFixture()
	f.projection.ExpectedCalls = nil
	f.projection.On("GetSegmentAssignment", mock.Anything, "ws-1", "user-1", "seg-newsletter").Return(nil, nil)
	f.projection.On("GetUserPropertyValues", mock.Anything, "ws-1", "user-1").
		Return(map[string]string{"phone": `"+15550100"`}, nil)

	req := emailRequest
	req.Channel = domain.ChannelSms
	result := f.service.Send(context.Background(), req)

	assert.Equal(t, domain.InternalEventBadWorkspaceConfiguration, result.Outcome)
	assert.Contains(t, result.Reason, "Sms")
	f.provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestService_Send_EventWriteFailureKeepsOutcome(t *testing.T) {
	f := newServiceFixture()
	f.events.ExpectedCalls = nil
	f.events.On("InsertBatch", mock.Anything, mock.Anything).Return(0, errors.New("clickhouse down"))
	f.provider.On("Send", mock.Anything, mock.Anything).Return(nil)

	result := f.service.Send(context.Background(), emailRequest)

	assert.Equal(t, domain.InternalEventMessageSent, result.Outcome)
}
