package service

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/automation/repository"
	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

const stageSweepLeadBatch = 100

// StageLeadStore is the slice of the leads module the stage sweeper consumes.
type StageLeadStore interface {
	ListInactive(ctx context.Context, stageID, organizationID uuid.UUID, cutoff time.Time, limit int) ([]InactiveLead, error)
	MoveStage(ctx context.Context, leadID, organizationID, stageID uuid.UUID) error
}

// InactiveLead is a lead sitting in a stage with no activity since the cutoff.
type InactiveLead struct {
	LeadID         uuid.UUID
	OrganizationID uuid.UUID
	AssignedUserID *uuid.UUID
	Name           string
}

// Notifier delivers in-app alerts to agents.
type Notifier interface {
	NotifyAgent(ctx context.Context, organizationID, userID, leadID uuid.UUID, message string) error
}

// StageSweeper applies time-based stage automations: leads inactive in a
// stage past the trigger threshold are moved to a target stage or their
// assigned agent is alerted.
type StageSweeper struct {
	repo     Store
	leads    StageLeadStore
	notifier Notifier
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
}

func NewStageSweeper(repo Store, leads StageLeadStore, notifier Notifier, bus events.Bus, log *logger.Logger) *StageSweeper {
	return &StageSweeper{
		repo:     repo,
		leads:    leads,
		notifier: notifier,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *StageSweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep evaluates every active stage automation. Each lead is handled
// independently; a rule is not re-fired for a lead it already fired for
// since the lead's last qualifying inactivity window began.
func (s *StageSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	automations, err := s.repo.ListActiveStageAutomations(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, automation := range automations {
		cutoff := s.now().Add(-time.Duration(automation.TriggerDays) * 24 * time.Hour)

		leads, err := s.leads.ListInactive(ctx, automation.StageID, automation.OrganizationID, cutoff, stageSweepLeadBatch)
		if err != nil {
			s.log.Error("stage sweep: list inactive leads",
				"stageAutomationId", automation.ID, "error", err)
			continue
		}

		for _, lead := range leads {
			report.Processed++

			fired, err := s.apply(ctx, automation, lead, cutoff)
			if err != nil {
				report.Failed++
				s.log.Error("stage automation failed",
					"stageAutomationId", automation.ID, "leadId", lead.LeadID, "error", err)
				continue
			}
			if fired {
				report.Succeeded++
			}
		}
	}

	s.log.SweepResult("automation.stage", report.Processed, report.Succeeded, report.Failed)
	return report, nil
}

func (s *StageSweeper) apply(ctx context.Context, automation repository.StageAutomation, lead InactiveLead, cutoff time.Time) (bool, error) {
	lastRun, err := s.repo.LastRunAt(ctx, automation.ID, lead.LeadID)
	if err != nil {
		return false, err
	}
	if lastRun != nil && lastRun.After(cutoff) {
		// Already fired for this inactivity window.
		return false, nil
	}

	switch automation.Action {
	case repository.ActionMoveAfterInactivity:
		if automation.TargetStageID == nil {
			return false, fmt.Errorf("move automation has no target stage")
		}
		if err := s.leads.MoveStage(ctx, lead.LeadID, lead.OrganizationID, *automation.TargetStageID); err != nil {
			return false, err
		}
		message := fmt.Sprintf("moved to stage %s after %d days of inactivity", automation.TargetStageID, automation.TriggerDays)
		if err := s.repo.LogStageAutomationRun(ctx, automation.ID, lead.LeadID, "stage_moved", message); err != nil {
			return false, err
		}
		if s.bus != nil {
			s.bus.Publish(ctx, events.LeadStageChanged{
				BaseEvent:      events.NewBaseEvent(),
				LeadID:         lead.LeadID,
				OrganizationID: lead.OrganizationID,
				StageID:        *automation.TargetStageID,
			})
		}
		return true, nil

	case repository.ActionAlertOnInactivity:
		if lead.AssignedUserID == nil {
			// Nobody to alert; leave the lead for the pool sweep.
			return false, nil
		}
		message := automation.AlertMessage
		if message == "" {
			message = fmt.Sprintf("lead %s has been inactive for %d days", lead.Name, automation.TriggerDays)
		}
		if err := s.notifier.NotifyAgent(ctx, lead.OrganizationID, *lead.AssignedUserID, lead.LeadID, message); err != nil {
			return false, err
		}
		if err := s.repo.LogStageAutomationRun(ctx, automation.ID, lead.LeadID, "alert_sent", message); err != nil {
			return false, err
		}
		return true, nil

	default:
		return false, fmt.Errorf("unknown stage automation action %q", automation.Action)
	}
}
