// Package notification provides in-app alerts for agents: lead assignments,
// inactivity warnings and automation failures land in the agent's inbox.
package notification

import (
	"context"
	"fmt"

	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/notification/handler"
	"leadflow_backend/internal/notification/inapp"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeadOwnerStore resolves the agent currently assigned to a lead.
type LeadOwnerStore interface {
	Owner(ctx context.Context, leadID, organizationID uuid.UUID) (*uuid.UUID, error)
}

// Module is the notification bounded context module implementing http.Module.
type Module struct {
	repo    *inapp.Repository
	service *inapp.Service
	handler *handler.Handler
	owners  LeadOwnerStore
	bus     events.Bus
	log     *logger.Logger
}

// NewModule creates and initializes the notification module.
func NewModule(pool *pgxpool.Pool, bus events.Bus, owners LeadOwnerStore, log *logger.Logger) *Module {
	repo := inapp.NewRepository(pool)
	svc := inapp.NewService(repo, log)
	h := handler.New(svc)

	m := &Module{
		repo:    repo,
		service: svc,
		handler: h,
		owners:  owners,
		bus:     bus,
		log:     log,
	}
	m.subscribe()
	return m
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// Service returns the in-app notification service for adapter wiring.
func (m *Module) Service() *inapp.Service {
	return m.service
}

// RegisterRoutes mounts notification routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/notifications"))
}

func (m *Module) subscribe() {
	m.bus.Subscribe(events.LeadAssigned{}.EventName(), events.HandlerFunc(m.onLeadAssigned))
	m.bus.Subscribe(events.AutomationExecutionFailed{}.EventName(), events.HandlerFunc(m.onAutomationFailed))
}

func (m *Module) onLeadAssigned(ctx context.Context, event events.Event) error {
	assigned, ok := event.(events.LeadAssigned)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	leadID := assigned.LeadID
	return m.service.Send(ctx, inapp.SendParams{
		OrgID:    assigned.OrganizationID,
		UserID:   assigned.UserID,
		LeadID:   &leadID,
		Title:    "New lead assigned",
		Content:  fmt.Sprintf("A lead was assigned to you (%s)", assigned.Reason),
		Category: "info",
	})
}

// onAutomationFailed alerts the lead's assigned agent. Unassigned leads have
// nobody to alert; the failure stays queryable via the executions API.
func (m *Module) onAutomationFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(events.AutomationExecutionFailed)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	owner, err := m.owners.Owner(ctx, failed.LeadID, failed.OrganizationID)
	if err != nil {
		return err
	}
	if owner == nil {
		return nil
	}

	leadID := failed.LeadID
	return m.service.Send(ctx, inapp.SendParams{
		OrgID:    failed.OrganizationID,
		UserID:   *owner,
		LeadID:   &leadID,
		Title:    "Automation failed",
		Content:  failed.ErrorMessage,
		Category: "error",
	})
}
