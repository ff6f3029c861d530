package service

import (
	"context"
	"errors"

	"leadflow_backend/internal/automation/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Service exposes the automation module's entry points: starting runs for
// new leads and querying executions.
type Service struct {
	repo     Store
	executor *Executor
	log      *logger.Logger
}

func New(repo Store, executor *Executor, log *logger.Logger) *Service {
	return &Service{repo: repo, executor: executor, log: log}
}

// StartForLead starts one execution per active definition bound to the
// lead's pipeline (or organization-wide). Each definition runs
// independently; one failing start does not stop the others.
func (s *Service) StartForLead(ctx context.Context, organizationID uuid.UUID, pipelineID *uuid.UUID, leadID uuid.UUID) error {
	defs, err := s.repo.ListActiveDefinitionsForPipeline(ctx, organizationID, pipelineID)
	if err != nil {
		return err
	}

	for _, def := range defs {
		if _, err := s.executor.Start(ctx, def, leadID); err != nil {
			s.log.Error("start automation for lead failed",
				"automationId", def.ID, "leadId", leadID, "error", err)
		}
	}
	return nil
}

// ListExecutions returns executions, optionally filtered by status.
func (s *Service) ListExecutions(ctx context.Context, organizationID uuid.UUID, status string, page, pageSize int) ([]repository.Execution, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var filter *repository.Status
	if status != "" {
		st := repository.Status(status)
		switch st {
		case repository.StatusRunning, repository.StatusWaiting, repository.StatusCompleted, repository.StatusFailed:
			filter = &st
		default:
			return nil, apperr.BadRequest("unknown execution status")
		}
	}

	return s.repo.ListExecutions(ctx, organizationID, filter, pageSize, (page-1)*pageSize)
}

// GetExecution returns one execution scoped to the organization.
func (s *Service) GetExecution(ctx context.Context, executionID, organizationID uuid.UUID) (repository.Execution, error) {
	exec, err := s.repo.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionNotFound) {
			return repository.Execution{}, apperr.NotFound("execution not found")
		}
		return repository.Execution{}, err
	}
	if exec.OrganizationID != organizationID {
		return repository.Execution{}, apperr.NotFound("execution not found")
	}
	return exec, nil
}
