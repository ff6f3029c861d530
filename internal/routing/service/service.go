// Package service orchestrates lead-to-agent routing: rule matching, the
// round-robin rotation and the assignment log. This is the only place a
// lead's assignment is mutated, which keeps assigned_at and
// redistribution_count consistent with the log.
package service

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/routing/domain"
	"leadflow_backend/internal/routing/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// cursorRetries bounds re-reads when the guarded cursor update loses a race.
const cursorRetries = 3

// Repository defines the data access the routing service needs.
type Repository interface {
	GetQueue(ctx context.Context, queueID, organizationID uuid.UUID) (domain.Queue, error)
	ListQueues(ctx context.Context, organizationID uuid.UUID) ([]domain.Queue, error)
	AdvanceCursor(ctx context.Context, queueID uuid.UUID, oldCursor, newCursor int) (bool, error)
	ListCandidateRules(ctx context.Context, organizationID uuid.UUID) ([]domain.Rule, error)
	GetPipelineRouting(ctx context.Context, pipelineID, organizationID uuid.UUID) (repository.PipelineRouting, error)
	ListPoolPipelines(ctx context.Context) ([]repository.PipelineRouting, error)
	ListPoolCandidates(ctx context.Context, pipelineID uuid.UUID, cutoff time.Time, maxRedistributions, limit int) ([]repository.PoolCandidate, error)
	LogAssignment(ctx context.Context, log repository.AssignmentLog) error
	ListAssignments(ctx context.Context, leadID, organizationID uuid.UUID) ([]repository.AssignmentLog, error)
}

// LeadStore is the slice of the leads module the routing service consumes.
type LeadStore interface {
	Snapshot(ctx context.Context, leadID, organizationID uuid.UUID) (domain.LeadSnapshot, error)
	// Assign sets assigned_user_id and assigned_at; when countRedistribution
	// is true it also increments redistribution_count.
	Assign(ctx context.Context, leadID, organizationID, userID uuid.UUID, at time.Time, countRedistribution bool) error
}

// Assignment is the outcome of one successful selection.
type Assignment struct {
	LeadID   uuid.UUID           `json:"leadId"`
	QueueID  uuid.UUID           `json:"queueId"`
	MemberID uuid.UUID           `json:"memberId"`
	UserID   uuid.UUID           `json:"userId"`
	Reason   domain.AssignReason `json:"reason"`
}

// SweepReport summarizes one pool sweep for the scheduler boundary.
type SweepReport struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Service routes leads to queue members.
type Service struct {
	repo      Repository
	leads     LeadStore
	bus       events.Bus
	log       *logger.Logger
	poolBatch int
	now       func() time.Time
}

// New creates the routing service. poolBatch bounds how many stale leads one
// sweep reclaims per pipeline.
func New(repo Repository, leads LeadStore, bus events.Bus, log *logger.Logger, poolBatch int) *Service {
	if poolBatch < 1 {
		poolBatch = 100
	}
	return &Service{
		repo:      repo,
		leads:     leads,
		bus:       bus,
		log:       log,
		poolBatch: poolBatch,
		now:       time.Now,
	}
}

// SetClock overrides the service clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RouteLead runs the rule matcher and, when a queue is found, assigns the
// lead through the round-robin selector. A nil Assignment with a nil error
// means no route or no eligible member: the lead stays visibly unassigned.
func (s *Service) RouteLead(ctx context.Context, leadID, organizationID uuid.UUID) (*Assignment, error) {
	snap, err := s.leads.Snapshot(ctx, leadID, organizationID)
	if err != nil {
		return nil, err
	}

	rules, err := s.repo.ListCandidateRules(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	decision, matched := domain.MatchRules(rules, snap, s.now())
	if !matched {
		fallback, ok, err := s.fallbackQueue(ctx, snap)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Info("lead has no route", "leadId", leadID)
			return nil, nil
		}
		decision = fallback
	}

	return s.assignToQueue(ctx, decision.QueueID, leadID, organizationID, decision.Reason, false)
}

// AssignManual assigns a specific lead through queue rotation, bypassing the
// rule matcher. Used by the operator-facing manual trigger.
func (s *Service) AssignManual(ctx context.Context, queueID, leadID, organizationID uuid.UUID) (*Assignment, error) {
	if _, err := s.leads.Snapshot(ctx, leadID, organizationID); err != nil {
		return nil, err
	}

	assignment, err := s.assignToQueue(ctx, queueID, leadID, organizationID, domain.ReasonManual, false)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, apperr.Conflict("queue has no eligible member")
	}
	return assignment, nil
}

// SweepPool reclaims leads that were assigned but received no first response
// within their pipeline's timeout, and pushes them back through the rotation.
// Every candidate is processed independently; one failure never aborts the
// batch.
func (s *Service) SweepPool(ctx context.Context) (SweepReport, error) {
	pipelines, err := s.repo.ListPoolPipelines(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	now := s.now()

	for _, pipeline := range pipelines {
		if pipeline.DefaultQueueID == nil {
			continue
		}

		cutoff := now.Add(-time.Duration(pipeline.PoolTimeoutMinutes) * time.Minute)
		candidates, err := s.repo.ListPoolCandidates(ctx, pipeline.PipelineID, cutoff, pipeline.MaxRedistributions, s.poolBatch)
		if err != nil {
			s.log.Warn("pool candidate query failed", "pipelineId", pipeline.PipelineID, "error", err)
			continue
		}

		for _, candidate := range candidates {
			report.Processed++

			assignment, err := s.assignPoolCandidate(ctx, pipeline, candidate)
			if err != nil {
				report.Failed++
				s.log.Warn("pool redistribution failed", "leadId", candidate.LeadID, "error", err)
				continue
			}
			if assignment == nil {
				// No eligible member; the lead stays untouched for the next sweep.
				continue
			}
			report.Succeeded++
		}
	}

	return report, nil
}

// ListQueues exposes queue definitions for the operator API.
func (s *Service) ListQueues(ctx context.Context, organizationID uuid.UUID) ([]domain.Queue, error) {
	return s.repo.ListQueues(ctx, organizationID)
}

// GetQueue exposes one queue with members for the operator API.
func (s *Service) GetQueue(ctx context.Context, queueID, organizationID uuid.UUID) (domain.Queue, error) {
	q, err := s.repo.GetQueue(ctx, queueID, organizationID)
	if err != nil {
		if errors.Is(err, repository.ErrQueueNotFound) {
			return domain.Queue{}, apperr.NotFound("queue not found")
		}
		return domain.Queue{}, err
	}
	return q, nil
}

// ListAssignments returns a lead's assignment history.
func (s *Service) ListAssignments(ctx context.Context, leadID, organizationID uuid.UUID) ([]repository.AssignmentLog, error) {
	return s.repo.ListAssignments(ctx, leadID, organizationID)
}

func (s *Service) fallbackQueue(ctx context.Context, snap domain.LeadSnapshot) (domain.RouteDecision, bool, error) {
	if snap.PipelineID == nil {
		return domain.RouteDecision{}, false, nil
	}

	routing, err := s.repo.GetPipelineRouting(ctx, *snap.PipelineID, snap.OrganizationID)
	if err != nil {
		if errors.Is(err, repository.ErrPipelineNotFound) {
			return domain.RouteDecision{}, false, nil
		}
		return domain.RouteDecision{}, false, err
	}
	if routing.DefaultQueueID == nil {
		return domain.RouteDecision{}, false, nil
	}

	return domain.RouteDecision{
		QueueID: *routing.DefaultQueueID,
		Reason:  domain.ReasonFallback,
	}, true, nil
}

func (s *Service) assignPoolCandidate(ctx context.Context, pipeline repository.PipelineRouting, candidate repository.PoolCandidate) (*Assignment, error) {
	return s.assignTo(ctx, *pipeline.DefaultQueueID, candidate.LeadID, candidate.OrganizationID, domain.ReasonPoolTimeout, true)
}

func (s *Service) assignToQueue(ctx context.Context, queueID, leadID, organizationID uuid.UUID, reason domain.AssignReason, countRedistribution bool) (*Assignment, error) {
	return s.assignTo(ctx, queueID, leadID, organizationID, reason, countRedistribution)
}

// assignTo performs one selection-and-advance cycle. The cursor advance is
// guarded on the value read, so concurrent selections on the same queue
// retry instead of double-advancing.
func (s *Service) assignTo(ctx context.Context, queueID, leadID, organizationID uuid.UUID, reason domain.AssignReason, countRedistribution bool) (*Assignment, error) {
	for attempt := 0; attempt < cursorRetries; attempt++ {
		queue, err := s.repo.GetQueue(ctx, queueID, organizationID)
		if err != nil {
			if errors.Is(err, repository.ErrQueueNotFound) {
				return nil, apperr.NotFound("queue not found")
			}
			return nil, err
		}

		selection, err := domain.SelectNext(queue)
		if err != nil {
			if errors.Is(err, domain.ErrNoEligibleMember) {
				s.log.Info("queue has no eligible member", "queueId", queueID, "leadId", leadID)
				return nil, nil
			}
			return nil, err
		}

		advanced, err := s.repo.AdvanceCursor(ctx, queue.ID, queue.Cursor, selection.NextCursor)
		if err != nil {
			return nil, err
		}
		if !advanced {
			continue
		}

		at := s.now()
		if err := s.leads.Assign(ctx, leadID, organizationID, selection.Member.UserID, at, countRedistribution); err != nil {
			return nil, err
		}

		if err := s.repo.LogAssignment(ctx, repository.AssignmentLog{
			OrganizationID: organizationID,
			QueueID:        queue.ID,
			LeadID:         leadID,
			MemberID:       selection.Member.ID,
			UserID:         selection.Member.UserID,
			Reason:         reason,
		}); err != nil {
			return nil, err
		}

		if s.bus != nil {
			s.bus.Publish(ctx, events.LeadAssigned{
				BaseEvent:      events.NewBaseEvent(),
				LeadID:         leadID,
				OrganizationID: organizationID,
				QueueID:        queue.ID,
				UserID:         selection.Member.UserID,
				Reason:         string(reason),
			})
		}

		return &Assignment{
			LeadID:   leadID,
			QueueID:  queue.ID,
			MemberID: selection.Member.ID,
			UserID:   selection.Member.UserID,
			Reason:   reason,
		}, nil
	}

	return nil, apperr.Conflict("queue rotation contention, try again")
}
