// Package repository provides data access for leads and their activity log.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Lead is the persisted lead row.
type Lead struct {
	ID                  uuid.UUID
	OrganizationID      uuid.UUID
	PipelineID          *uuid.UUID
	StageID             *uuid.UUID
	Name                string
	Phone               string
	Source              string
	CampaignName        string
	OriginFormID        *uuid.UUID
	Tags                []string
	City                string
	AssignedUserID      *uuid.UUID
	AssignedAt          *time.Time
	FirstResponseAt     *time.Time
	RedistributionCount int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CreateParams are the intake fields. Assignment always starts empty; the
// routing flow claims the lead afterwards.
type CreateParams struct {
	OrganizationID uuid.UUID
	PipelineID     *uuid.UUID
	StageID        *uuid.UUID
	Name           string
	Phone          string
	Source         string
	CampaignName   string
	OriginFormID   *uuid.UUID
	Tags           []string
	City           string
}

const leadColumns = `
	id, organization_id, pipeline_id, stage_id, name, phone, source,
	campaign_name, origin_form_id, tags, city, assigned_user_id, assigned_at,
	first_response_at, redistribution_count, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID, &l.OrganizationID, &l.PipelineID, &l.StageID, &l.Name, &l.Phone,
		&l.Source, &l.CampaignName, &l.OriginFormID, &l.Tags, &l.City,
		&l.AssignedUserID, &l.AssignedAt, &l.FirstResponseAt,
		&l.RedistributionCount, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

// Create inserts a new unassigned lead.
func (r *Repository) Create(ctx context.Context, p CreateParams) (Lead, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (organization_id, pipeline_id, stage_id, name, phone, source, campaign_name, origin_form_id, tags, city)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING`+leadColumns,
		p.OrganizationID, p.PipelineID, p.StageID, p.Name, p.Phone, p.Source,
		p.CampaignName, p.OriginFormID, tags, p.City,
	)

	lead, err := scanLead(row)
	if err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	return lead, nil
}

// GetByID loads one lead scoped to an organization.
func (r *Repository) GetByID(ctx context.Context, leadID, organizationID uuid.UUID) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+leadColumns+`
		FROM leads
		WHERE id = $1 AND organization_id = $2
	`, leadID, organizationID)

	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

// List returns leads of an organization, optionally only unassigned ones.
func (r *Repository) List(ctx context.Context, organizationID uuid.UUID, unassignedOnly bool, limit, offset int) ([]Lead, error) {
	query := `
		SELECT` + leadColumns + `
		FROM leads
		WHERE organization_id = $1`
	if unassignedOnly {
		query += ` AND assigned_user_id IS NULL`
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, organizationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	leads := make([]Lead, 0, limit)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// Assign is the single mutation point for a lead's assignment. When
// countRedistribution is true the redistribution counter advances with the
// same statement, so the counter can never drift from assigned_at.
func (r *Repository) Assign(ctx context.Context, leadID, organizationID, userID uuid.UUID, at time.Time, countRedistribution bool) error {
	increment := 0
	if countRedistribution {
		increment = 1
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET assigned_user_id = $3,
		    assigned_at = $4,
		    redistribution_count = redistribution_count + $5,
		    updated_at = now()
		WHERE id = $1 AND organization_id = $2
	`, leadID, organizationID, userID, at, increment)
	if err != nil {
		return fmt.Errorf("assign lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFirstResponse records the first outbound touch. The guard keeps the
// timestamp write-once; later calls are no-ops.
func (r *Repository) MarkFirstResponse(ctx context.Context, leadID, organizationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET first_response_at = now(), updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND first_response_at IS NULL
	`, leadID, organizationID)
	if err != nil {
		return fmt.Errorf("mark first response: %w", err)
	}
	return nil
}

// ApplyTag appends a tag if the lead does not carry it yet.
func (r *Repository) ApplyTag(ctx context.Context, leadID, organizationID uuid.UUID, tagValue string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET tags = array_append(tags, $3), updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND NOT ($3 = ANY(tags))
	`, leadID, organizationID, tagValue)
	if err != nil {
		return fmt.Errorf("apply tag: %w", err)
	}
	return nil
}

// MoveStage updates the lead's stage and logs a stage-change activity.
func (r *Repository) MoveStage(ctx context.Context, leadID, organizationID, stageID uuid.UUID, actorID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET stage_id = $3, updated_at = now()
		WHERE id = $1 AND organization_id = $2
	`, leadID, organizationID, stageID)
	if err != nil {
		return fmt.Errorf("move stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return r.AddActivity(ctx, leadID, organizationID, actorID, "stage_changed", map[string]interface{}{
		"stageId": stageID,
	})
}

// AddActivity appends one activity record to the lead's timeline.
func (r *Repository) AddActivity(ctx context.Context, leadID, organizationID uuid.UUID, actorID *uuid.UUID, kind string, metadata map[string]interface{}) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode activity metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO lead_activities (lead_id, organization_id, actor_user_id, kind, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, leadID, organizationID, actorID, kind, payload)
	if err != nil {
		return fmt.Errorf("add activity: %w", err)
	}
	return nil
}

// ListInactiveInStage returns leads sitting in a stage with no activity at or
// after the cutoff. Leads without any activity count as infinitely inactive.
func (r *Repository) ListInactiveInStage(ctx context.Context, stageID, organizationID uuid.UUID, cutoff time.Time, limit int) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+leadColumns+`
		FROM leads l
		WHERE l.stage_id = $1
		  AND l.organization_id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM lead_activities a
			WHERE a.lead_id = l.id AND a.created_at >= $3
		  )
		ORDER BY l.updated_at ASC
		LIMIT $4
	`, stageID, organizationID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list inactive leads: %w", err)
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inactive lead: %w", err)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}
