// Package service implements lead intake and lifecycle operations.
package service

import (
	"context"
	"errors"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"

	"github.com/google/uuid"
)

// Router is the slice of the routing module the intake path consumes.
// Routing runs synchronously after persistence so the lead is assigned
// before the intake response returns.
type Router interface {
	RouteLead(ctx context.Context, leadID, organizationID uuid.UUID) error
}

// Service handles lead intake and lifecycle operations.
type Service struct {
	repo   *repository.Repository
	bus    events.Bus
	router Router
	log    *logger.Logger
}

// New creates the leads service. The router is injected later via SetRouter
// because the routing module itself depends on the lead store.
func New(repo *repository.Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log}
}

// SetRouter injects the routing entry point (circular dependency avoidance).
func (s *Service) SetRouter(router Router) {
	s.router = router
}

// Intake persists a new unassigned lead, routes it, and publishes LeadCreated.
func (s *Service) Intake(ctx context.Context, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	lead, err := s.repo.Create(ctx, repository.CreateParams{
		OrganizationID: req.OrganizationID,
		PipelineID:     req.PipelineID,
		StageID:        req.StageID,
		Name:           req.Name,
		Phone:          phone.NormalizeE164(req.Phone),
		Source:         req.Source,
		CampaignName:   req.CampaignName,
		OriginFormID:   req.OriginFormID,
		Tags:           req.Tags,
		City:           req.City,
	})
	if err != nil {
		return transport.LeadResponse{}, err
	}

	_ = s.repo.AddActivity(ctx, lead.ID, lead.OrganizationID, nil, "created", map[string]interface{}{
		"source": lead.Source,
	})

	if s.router != nil {
		if err := s.router.RouteLead(ctx, lead.ID, lead.OrganizationID); err != nil {
			// Routing errors leave the lead visibly unassigned; intake still succeeds.
			s.log.Warn("lead routing failed", "leadId", lead.ID, "error", err)
		}
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.LeadCreated{
			BaseEvent:      events.NewBaseEvent(),
			LeadID:         lead.ID,
			OrganizationID: lead.OrganizationID,
			PipelineID:     lead.PipelineID,
			Source:         lead.Source,
		})
	}

	// Re-read so the response reflects the assignment made by routing.
	current, err := s.repo.GetByID(ctx, lead.ID, lead.OrganizationID)
	if err != nil {
		current = lead
	}

	return toLeadResponse(current), nil
}

// GetByID returns one lead.
func (s *Service) GetByID(ctx context.Context, leadID, organizationID uuid.UUID) (transport.LeadResponse, error) {
	lead, err := s.repo.GetByID(ctx, leadID, organizationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}
	return toLeadResponse(lead), nil
}

// List returns leads, optionally only unassigned ones.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID, unassignedOnly bool, page, pageSize int) (transport.LeadListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	leads, err := s.repo.List(ctx, organizationID, unassignedOnly, pageSize, (page-1)*pageSize)
	if err != nil {
		return transport.LeadListResponse{}, err
	}

	items := make([]transport.LeadResponse, len(leads))
	for i, lead := range leads {
		items[i] = toLeadResponse(lead)
	}
	return transport.LeadListResponse{Items: items}, nil
}

// MarkFirstResponse records agent-driven engagement with the lead. The
// timestamp is write-once; repeated calls are harmless.
func (s *Service) MarkFirstResponse(ctx context.Context, leadID, organizationID uuid.UUID, actorID uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, leadID, organizationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("lead not found")
		}
		return err
	}

	if err := s.repo.MarkFirstResponse(ctx, leadID, organizationID); err != nil {
		return err
	}

	return s.repo.AddActivity(ctx, leadID, organizationID, &actorID, "first_response", nil)
}

func toLeadResponse(lead repository.Lead) transport.LeadResponse {
	tags := lead.Tags
	if tags == nil {
		tags = []string{}
	}

	return transport.LeadResponse{
		ID:                  lead.ID,
		OrganizationID:      lead.OrganizationID,
		PipelineID:          lead.PipelineID,
		StageID:             lead.StageID,
		Name:                lead.Name,
		Phone:               lead.Phone,
		Source:              lead.Source,
		CampaignName:        lead.CampaignName,
		OriginFormID:        lead.OriginFormID,
		Tags:                tags,
		City:                lead.City,
		AssignedUserID:      lead.AssignedUserID,
		AssignedAt:          lead.AssignedAt,
		FirstResponseAt:     lead.FirstResponseAt,
		RedistributionCount: lead.RedistributionCount,
		CreatedAt:           lead.CreatedAt,
	}
}
