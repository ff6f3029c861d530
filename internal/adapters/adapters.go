// Package adapters converts between module interfaces, keeping bounded
// contexts decoupled. Each adapter narrows one module's surface to the
// consumer-side interface another module declares.
package adapters

import (
	"context"
	"time"

	automationsvc "leadflow_backend/internal/automation/service"
	leadrepo "leadflow_backend/internal/leads/repository"
	leadsvc "leadflow_backend/internal/leads/service"
	"leadflow_backend/internal/notification/inapp"
	"leadflow_backend/internal/routing/domain"
	routingsvc "leadflow_backend/internal/routing/service"

	"github.com/google/uuid"
)

// RoutingLeadStore adapts the lead repository to routing's LeadStore.
type RoutingLeadStore struct {
	repo *leadrepo.Repository
}

func NewRoutingLeadStore(repo *leadrepo.Repository) *RoutingLeadStore {
	return &RoutingLeadStore{repo: repo}
}

var _ routingsvc.LeadStore = (*RoutingLeadStore)(nil)

func (a *RoutingLeadStore) Snapshot(ctx context.Context, leadID, organizationID uuid.UUID) (domain.LeadSnapshot, error) {
	lead, err := a.repo.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return domain.LeadSnapshot{}, err
	}

	return domain.LeadSnapshot{
		LeadID:         lead.ID,
		OrganizationID: lead.OrganizationID,
		PipelineID:     lead.PipelineID,
		StageID:        lead.StageID,
		Source:         lead.Source,
		CampaignName:   lead.CampaignName,
		OriginFormID:   lead.OriginFormID,
		Tags:           lead.Tags,
		City:           lead.City,
	}, nil
}

func (a *RoutingLeadStore) Assign(ctx context.Context, leadID, organizationID, userID uuid.UUID, at time.Time, countRedistribution bool) error {
	return a.repo.Assign(ctx, leadID, organizationID, userID, at, countRedistribution)
}

// LeadRouter adapts the routing service to the leads module's Router.
type LeadRouter struct {
	svc *routingsvc.Service
}

func NewLeadRouter(svc *routingsvc.Service) *LeadRouter {
	return &LeadRouter{svc: svc}
}

var _ leadsvc.Router = (*LeadRouter)(nil)

func (a *LeadRouter) RouteLead(ctx context.Context, leadID, organizationID uuid.UUID) error {
	_, err := a.svc.RouteLead(ctx, leadID, organizationID)
	return err
}

// AutomationLeadStore adapts the lead repository to the executor's LeadStore.
type AutomationLeadStore struct {
	repo *leadrepo.Repository
}

func NewAutomationLeadStore(repo *leadrepo.Repository) *AutomationLeadStore {
	return &AutomationLeadStore{repo: repo}
}

var _ automationsvc.LeadStore = (*AutomationLeadStore)(nil)
var _ automationsvc.StageLeadStore = (*AutomationLeadStore)(nil)

func (a *AutomationLeadStore) Profile(ctx context.Context, leadID, organizationID uuid.UUID) (automationsvc.LeadProfile, error) {
	lead, err := a.repo.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return automationsvc.LeadProfile{}, err
	}

	return automationsvc.LeadProfile{
		LeadID:         lead.ID,
		OrganizationID: lead.OrganizationID,
		PipelineID:     lead.PipelineID,
		StageID:        lead.StageID,
		AssignedUserID: lead.AssignedUserID,
		Name:           lead.Name,
		Phone:          lead.Phone,
		Source:         lead.Source,
		CampaignName:   lead.CampaignName,
		City:           lead.City,
		Tags:           lead.Tags,
	}, nil
}

func (a *AutomationLeadStore) ApplyTag(ctx context.Context, leadID, organizationID uuid.UUID, tag string) error {
	return a.repo.ApplyTag(ctx, leadID, organizationID, tag)
}

func (a *AutomationLeadStore) MarkFirstResponse(ctx context.Context, leadID, organizationID uuid.UUID) error {
	return a.repo.MarkFirstResponse(ctx, leadID, organizationID)
}

func (a *AutomationLeadStore) ListInactive(ctx context.Context, stageID, organizationID uuid.UUID, cutoff time.Time, limit int) ([]automationsvc.InactiveLead, error) {
	leads, err := a.repo.ListInactiveInStage(ctx, stageID, organizationID, cutoff, limit)
	if err != nil {
		return nil, err
	}

	inactive := make([]automationsvc.InactiveLead, len(leads))
	for i, lead := range leads {
		inactive[i] = automationsvc.InactiveLead{
			LeadID:         lead.ID,
			OrganizationID: lead.OrganizationID,
			AssignedUserID: lead.AssignedUserID,
			Name:           lead.Name,
		}
	}
	return inactive, nil
}

func (a *AutomationLeadStore) MoveStage(ctx context.Context, leadID, organizationID, stageID uuid.UUID) error {
	return a.repo.MoveStage(ctx, leadID, organizationID, stageID, nil)
}

// AgentNotifier adapts the in-app notification service to the stage
// sweeper's Notifier.
type AgentNotifier struct {
	svc *inapp.Service
}

func NewAgentNotifier(svc *inapp.Service) *AgentNotifier {
	return &AgentNotifier{svc: svc}
}

var _ automationsvc.Notifier = (*AgentNotifier)(nil)

func (a *AgentNotifier) NotifyAgent(ctx context.Context, organizationID, userID, leadID uuid.UUID, message string) error {
	lead := leadID
	return a.svc.Send(ctx, inapp.SendParams{
		OrgID:    organizationID,
		UserID:   userID,
		LeadID:   &lead,
		Title:    "Lead needs attention",
		Content:  message,
		Category: "warning",
	})
}

// LeadOwnerStore adapts the lead repository to the notification module's
// owner lookup.
type LeadOwnerStore struct {
	repo *leadrepo.Repository
}

func NewLeadOwnerStore(repo *leadrepo.Repository) *LeadOwnerStore {
	return &LeadOwnerStore{repo: repo}
}

func (a *LeadOwnerStore) Owner(ctx context.Context, leadID, organizationID uuid.UUID) (*uuid.UUID, error) {
	lead, err := a.repo.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return nil, err
	}
	return lead.AssignedUserID, nil
}
