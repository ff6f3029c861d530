// Package routing provides the lead routing bounded context: rule matching,
// round-robin queues and the pool redistribution sweep.
package routing

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/routing/handler"
	"leadflow_backend/internal/routing/repository"
	"leadflow_backend/internal/routing/service"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the routing bounded context module implementing http.Module.
type Module struct {
	repo    *repository.Repository
	service *service.Service
	handler *handler.Handler
}

// NewModule creates and initializes the routing module. The lead store is a
// consumer-side slice of the leads module, wired through internal/adapters.
func NewModule(pool *pgxpool.Pool, bus events.Bus, leads service.LeadStore, cfg config.RoutingConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, leads, bus, log, cfg.GetPoolSweepBatchSize())
	h := handler.New(svc, val)

	return &Module{
		repo:    repo,
		service: svc,
		handler: h,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "routing"
}

// Service returns the routing service for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts routing routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/routing"))
	m.handler.RegisterLeadRoutes(ctx.Protected.Group("/leads"))
}
