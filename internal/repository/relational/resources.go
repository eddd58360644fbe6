package relational

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// ListWorkspaceIDs returns every workspace with at least one definition
func (r *Repository) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Raw(`
		SELECT workspace_id FROM segments
		UNION
		SELECT workspace_id FROM user_properties
		ORDER BY workspace_id`).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return ids, nil
}

// LoadResources returns the definitions of a workspace. Malformed definitions
// are logged and skipped so one bad row cannot stall the sweep.
func (r *Repository) LoadResources(ctx context.Context, workspaceID string) (*domain.Resources, error) {
	db := r.db.WithContext(ctx)
	res := &domain.Resources{WorkspaceID: workspaceID}

	var segments []SegmentModel
	if err := db.Where("workspace_id = ?", workspaceID).Order("id").Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}
	for _, m := range segments {
		s, err := m.toDomain()
		if err != nil {
			r.log.Warn("Skipping malformed segment",
				zap.String("workspace_id", workspaceID),
				zap.String("segment_id", m.ID),
				zap.Error(err))
			continue
		}
		res.Segments = append(res.Segments, *s)
	}

	var properties []UserPropertyModel
	if err := db.Where("workspace_id = ?", workspaceID).Order("id").Find(&properties).Error; err != nil {
		return nil, fmt.Errorf("failed to load user properties: %w", err)
	}
	for _, m := range properties {
		up, err := m.toDomain()
		if err != nil {
			r.log.Warn("Skipping malformed user property",
				zap.String("workspace_id", workspaceID),
				zap.String("user_property_id", m.ID),
				zap.Error(err))
			continue
		}
		res.UserProperties = append(res.UserProperties, *up)
	}

	var journeys []JourneyModel
	if err := db.Where("workspace_id = ?", workspaceID).Order("id").Find(&journeys).Error; err != nil {
		return nil, fmt.Errorf("failed to load journeys: %w", err)
	}
	for _, m := range journeys {
		j, err := m.toDomain()
		if err != nil {
			r.log.Warn("Skipping malformed journey",
				zap.String("workspace_id", workspaceID),
				zap.String("journey_id", m.ID),
				zap.Error(err))
			continue
		}
		res.Journeys = append(res.Journeys, *j)
	}

	var integrations []IntegrationModel
	if err := db.Where("workspace_id = ? AND enabled = ?", workspaceID, true).Order("name").Find(&integrations).Error; err != nil {
		return nil, fmt.Errorf("failed to load integrations: %w", err)
	}
	for _, m := range integrations {
		res.Integrations = append(res.Integrations, m.toDomain())
	}

	return res, nil
}

// GetJourney returns nil when the journey does not exist
func (r *Repository) GetJourney(ctx context.Context, workspaceID, journeyID string) (*domain.Journey, error) {
	var m JourneyModel
	found, err := first(r.db.WithContext(ctx).Where("workspace_id = ? AND id = ?", workspaceID, journeyID), &m)
	if err != nil {
		return nil, fmt.Errorf("failed to get journey: %w", err)
	}
	if !found {
		return nil, nil
	}
	return m.toDomain()
}

// GetSegment returns nil when the segment does not exist
func (r *Repository) GetSegment(ctx context.Context, workspaceID, segmentID string) (*domain.Segment, error) {
	var m SegmentModel
	found, err := first(r.db.WithContext(ctx).Where("workspace_id = ? AND id = ?", workspaceID, segmentID), &m)
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	if !found {
		return nil, nil
	}
	return m.toDomain()
}

// GetMessageTemplate returns nil when the template does not exist
func (r *Repository) GetMessageTemplate(ctx context.Context, workspaceID, templateID string) (*domain.MessageTemplate, error) {
	var m MessageTemplateModel
	found, err := first(r.db.WithContext(ctx).Where("workspace_id = ? AND id = ?", workspaceID, templateID), &m)
	if err != nil {
		return nil, fmt.Errorf("failed to get message template: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &domain.MessageTemplate{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Channel:     domain.ChannelType(m.Channel),
		Subject:     m.Subject,
		Body:        m.Body,
	}, nil
}

// GetSubscriptionGroup returns nil when the group does not exist
func (r *Repository) GetSubscriptionGroup(ctx context.Context, workspaceID, groupID string) (*domain.SubscriptionGroup, error) {
	var m SubscriptionGroupModel
	found, err := first(r.db.WithContext(ctx).Where("workspace_id = ? AND id = ?", workspaceID, groupID), &m)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription group: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &domain.SubscriptionGroup{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Type:        domain.SubscriptionGroupType(m.Type),
		Channel:     domain.ChannelType(m.Channel),
		SegmentID:   m.SegmentID,
	}, nil
}

// UpsertSegment stores a segment definition. The stored UpdatedAt becomes the
// definition version.
func (r *Repository) UpsertSegment(ctx context.Context, s *domain.Segment) error {
	def, err := json.Marshal(s.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode segment definition: %w", err)
	}
	m := SegmentModel{
		ID:          s.ID,
		WorkspaceID: s.WorkspaceID,
		Name:        s.Name,
		Definition:  def,
		UpdatedAt:   s.UpdatedAt,
	}
	return r.upsert(ctx, &m, []string{"id"}, "name", "definition", "updated_at")
}

// UpsertUserProperty stores a user property definition
func (r *Repository) UpsertUserProperty(ctx context.Context, up *domain.UserProperty) error {
	def, err := domain.MarshalUserPropertyDefinition(up.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode user property definition: %w", err)
	}
	m := UserPropertyModel{
		ID:          up.ID,
		WorkspaceID: up.WorkspaceID,
		Name:        up.Name,
		Definition:  def,
		UpdatedAt:   up.UpdatedAt,
	}
	return r.upsert(ctx, &m, []string{"id"}, "name", "definition", "updated_at")
}

// UpsertJourney validates the journey graph and stores the journey. Invalid
// graphs are rejected with domain.ErrInvalidJourneyGraph.
func (r *Repository) UpsertJourney(ctx context.Context, j *domain.Journey) error {
	if err := domain.ValidateJourneyDefinition(&j.Definition); err != nil {
		return err
	}
	def, err := json.Marshal(j.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode journey definition: %w", err)
	}
	status := j.Status
	if status == "" {
		status = domain.JourneyNotStarted
	}
	m := JourneyModel{
		ID:          j.ID,
		WorkspaceID: j.WorkspaceID,
		Name:        j.Name,
		Status:      string(status),
		Definition:  def,
		UpdatedAt:   j.UpdatedAt,
	}
	return r.upsert(ctx, &m, []string{"id"}, "name", "status", "definition", "updated_at")
}

// UpsertIntegration stores an integration subscription
func (r *Repository) UpsertIntegration(ctx context.Context, in *domain.Integration) error {
	m := IntegrationModel{
		WorkspaceID:              in.WorkspaceID,
		Name:                     in.Name,
		Enabled:                  in.Enabled,
		SubscribedSegments:       in.SubscribedSegments,
		SubscribedUserProperties: in.SubscribedUserProperties,
	}
	return r.upsert(ctx, &m, []string{"workspace_id", "name"}, "enabled", "subscribed_segments", "subscribed_user_properties", "updated_at")
}

// UpsertSubscriptionGroup stores a subscription group
func (r *Repository) UpsertSubscriptionGroup(ctx context.Context, g *domain.SubscriptionGroup) error {
	m := SubscriptionGroupModel{
		ID:          g.ID,
		WorkspaceID: g.WorkspaceID,
		Name:        g.Name,
		Type:        string(g.Type),
		Channel:     string(g.Channel),
		SegmentID:   g.SegmentID,
	}
	return r.upsert(ctx, &m, []string{"id"}, "name", "type", "channel", "segment_id", "updated_at")
}

// UpsertMessageTemplate stores a message template
func (r *Repository) UpsertMessageTemplate(ctx context.Context, t *domain.MessageTemplate) error {
	m := MessageTemplateModel{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		Name:        t.Name,
		Channel:     string(t.Channel),
		Subject:     t.Subject,
		Body:        t.Body,
	}
	return r.upsert(ctx, &m, []string{"id"}, "name", "channel", "subject", "body", "updated_at")
}

func (r *Repository) upsert(ctx context.Context, model any, keys []string, columns ...string) error {
	conflict := make([]clause.Column, len(keys))
	for i, k := range keys {
		conflict[i] = clause.Column{Name: k}
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   conflict,
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %T: %w", model, err)
	}
	return nil
}

func (m *SegmentModel) toDomain() (*domain.Segment, error) {
	def, err := domain.ParseSegmentDefinition(m.Definition)
	if err != nil {
		return nil, err
	}
	return &domain.Segment{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Definition:  def,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func (m *UserPropertyModel) toDomain() (*domain.UserProperty, error) {
	def, err := domain.ParseUserPropertyDefinition(m.Definition)
	if err != nil {
		return nil, err
	}
	return &domain.UserProperty{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Definition:  def,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func (m *JourneyModel) toDomain() (*domain.Journey, error) {
	def, err := domain.ParseJourneyDefinition(m.Definition)
	if err != nil {
		return nil, err
	}
	return &domain.Journey{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Status:      domain.JourneyStatus(m.Status),
		Definition:  def,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func (m *IntegrationModel) toDomain() domain.Integration {
	return domain.Integration{
		Name:                     m.Name,
		WorkspaceID:              m.WorkspaceID,
		Enabled:                  m.Enabled,
		SubscribedSegments:       m.SubscribedSegments,
		SubscribedUserProperties: m.SubscribedUserProperties,
	}
}
