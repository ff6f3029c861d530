package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StageAutomationAction names what a stage automation does when it fires.
type StageAutomationAction string

const (
	ActionMoveAfterInactivity StageAutomationAction = "move_after_inactivity"
	ActionAlertOnInactivity   StageAutomationAction = "alert_on_inactivity"
)

// StageAutomation is a time-based rule attached to a pipeline stage: after
// TriggerDays of lead inactivity in the stage it either moves the lead to
// TargetStageID or alerts the assigned agent.
type StageAutomation struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	PipelineID     uuid.UUID
	StageID        uuid.UUID
	Action         StageAutomationAction
	TriggerDays    int
	TargetStageID  *uuid.UUID
	AlertMessage   string
	Active         bool
}

// ListActiveStageAutomations returns every active stage automation across
// all organizations, for the scheduler sweep.
func (r *Repository) ListActiveStageAutomations(ctx context.Context) ([]StageAutomation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, pipeline_id, stage_id, action, trigger_days,
		       target_stage_id, COALESCE(alert_message, ''), is_active
		FROM stage_automations
		WHERE is_active = TRUE
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list stage automations: %w", err)
	}
	defer rows.Close()

	automations := make([]StageAutomation, 0)
	for rows.Next() {
		var sa StageAutomation
		if err := rows.Scan(&sa.ID, &sa.OrganizationID, &sa.PipelineID, &sa.StageID, &sa.Action,
			&sa.TriggerDays, &sa.TargetStageID, &sa.AlertMessage, &sa.Active); err != nil {
			return nil, fmt.Errorf("scan stage automation: %w", err)
		}
		automations = append(automations, sa)
	}
	return automations, rows.Err()
}

// StageAutomationRun is one audit record of a stage automation firing.
type StageAutomationRun struct {
	ID                uuid.UUID `json:"id"`
	StageAutomationID uuid.UUID `json:"stageAutomationId"`
	LeadID            uuid.UUID `json:"leadId"`
	Action            string    `json:"action"`
	Message           string    `json:"message"`
	RanAt             time.Time `json:"ranAt"`
}

// LogStageAutomationRun records that a stage automation fired for a lead.
func (r *Repository) LogStageAutomationRun(ctx context.Context, stageAutomationID, leadID uuid.UUID, action, message string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stage_automation_runs (stage_automation_id, lead_id, action, message)
		VALUES ($1, $2, $3, $4)
	`, stageAutomationID, leadID, action, message)
	if err != nil {
		return fmt.Errorf("log stage automation run: %w", err)
	}
	return nil
}

// LastRunAt returns when a stage automation last fired for a lead, so sweeps
// do not fire the same rule repeatedly for a lead that stays inactive.
func (r *Repository) LastRunAt(ctx context.Context, stageAutomationID, leadID uuid.UUID) (*time.Time, error) {
	var ranAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MAX(ran_at)
		FROM stage_automation_runs
		WHERE stage_automation_id = $1 AND lead_id = $2
	`, stageAutomationID, leadID).Scan(&ranAt)
	if err != nil {
		return nil, fmt.Errorf("last stage automation run: %w", err)
	}
	return ranAt, nil
}
