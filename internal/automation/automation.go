// Package automation provides the workflow automation bounded context:
// graph executions started for new leads, delayed-step resumption, and
// stage-inactivity automations.
package automation

import (
	"context"
	"fmt"

	"leadflow_backend/internal/automation/handler"
	"leadflow_backend/internal/automation/repository"
	"leadflow_backend/internal/automation/service"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the automation bounded context module implementing http.Module.
type Module struct {
	repo     *repository.Repository
	executor *service.Executor
	delay    *service.DelayProcessor
	stage    *service.StageSweeper
	service  *service.Service
	handler  *handler.Handler
	bus      events.Bus
	log      *logger.Logger
}

// NewModule creates and initializes the automation module. The lead store,
// messenger and notifier are consumer-side slices of other modules, wired
// through internal/adapters.
func NewModule(
	pool *pgxpool.Pool,
	bus events.Bus,
	leadStore service.LeadStore,
	stageLeads service.StageLeadStore,
	messenger service.Messenger,
	notifier service.Notifier,
	cfg config.AutomationConfig,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	executor := service.NewExecutor(repo, leadStore, messenger, bus, log, cfg.GetAutomationMaxSteps())
	delay := service.NewDelayProcessor(repo, executor, log, cfg.GetDelaySweepBatchSize())
	stage := service.NewStageSweeper(repo, stageLeads, notifier, bus, log)
	svc := service.New(repo, executor, log)
	h := handler.New(svc)

	m := &Module{
		repo:     repo,
		executor: executor,
		delay:    delay,
		stage:    stage,
		service:  svc,
		handler:  h,
		bus:      bus,
		log:      log,
	}
	m.subscribe()
	return m
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "automation"
}

// DelayProcessor returns the delay sweep entry point for the scheduler.
func (m *Module) DelayProcessor() *service.DelayProcessor {
	return m.delay
}

// StageSweeper returns the stage sweep entry point for the scheduler.
func (m *Module) StageSweeper() *service.StageSweeper {
	return m.stage
}

// Service returns the automation service for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts automation routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/automations"))
}

// subscribe starts automation executions when a lead is created.
func (m *Module) subscribe() {
	m.bus.Subscribe(events.LeadCreated{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		created, ok := event.(events.LeadCreated)
		if !ok {
			return fmt.Errorf("unexpected event type %T", event)
		}
		return m.service.StartForLead(ctx, created.OrganizationID, created.PipelineID, created.LeadID)
	}))
}
