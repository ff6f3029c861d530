// Package repository provides data access for automation definitions,
// executions and stage automations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/internal/automation/graph"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrDefinitionNotFound = errors.New("automation definition not found")
	ErrExecutionNotFound  = errors.New("automation execution not found")
)

// Status is the execution lifecycle state. Completed and failed are terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Definition is a persisted automation workflow bound to a pipeline.
type Definition struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	PipelineID     *uuid.UUID
	Name           string
	Active         bool
	EntryNodeID    string
	Graph          graph.Definition
}

// GetDefinition loads and decodes one automation definition.
func (r *Repository) GetDefinition(ctx context.Context, definitionID uuid.UUID) (Definition, error) {
	var def Definition
	var nodes []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, pipeline_id, name, is_active, entry_node_id, nodes
		FROM automation_definitions
		WHERE id = $1
	`, definitionID).Scan(&def.ID, &def.OrganizationID, &def.PipelineID, &def.Name, &def.Active, &def.EntryNodeID, &nodes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Definition{}, ErrDefinitionNotFound
		}
		return Definition{}, fmt.Errorf("get definition: %w", err)
	}

	parsed, err := graph.ParseNodes(nodes)
	if err != nil {
		return Definition{}, fmt.Errorf("definition %s: %w", def.ID, err)
	}

	def.Graph = graph.Definition{
		Name:        def.Name,
		Active:      def.Active,
		EntryNodeID: def.EntryNodeID,
		Nodes:       parsed,
	}
	return def, nil
}

// ListActiveDefinitionsForPipeline returns active definitions that apply to
// a pipeline: bound to it directly or organization-wide (NULL pipeline).
func (r *Repository) ListActiveDefinitionsForPipeline(ctx context.Context, organizationID uuid.UUID, pipelineID *uuid.UUID) ([]Definition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, pipeline_id, name, is_active, entry_node_id, nodes
		FROM automation_definitions
		WHERE organization_id = $1
		  AND is_active = TRUE
		  AND (pipeline_id IS NULL OR pipeline_id = $2)
		ORDER BY created_at ASC
	`, organizationID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]Definition, 0)
	for rows.Next() {
		var def Definition
		var nodes []byte
		if err := rows.Scan(&def.ID, &def.OrganizationID, &def.PipelineID, &def.Name, &def.Active, &def.EntryNodeID, &nodes); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}

		parsed, err := graph.ParseNodes(nodes)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", def.ID, err)
		}
		def.Graph = graph.Definition{
			Name:        def.Name,
			Active:      def.Active,
			EntryNodeID: def.EntryNodeID,
			Nodes:       parsed,
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Execution is one run of a definition against one lead.
// NextExecutionAt is non-null exactly while the status is waiting.
type Execution struct {
	ID              uuid.UUID  `json:"id"`
	OrganizationID  uuid.UUID  `json:"organizationId"`
	AutomationID    uuid.UUID  `json:"automationId"`
	LeadID          uuid.UUID  `json:"leadId"`
	Status          Status     `json:"status"`
	CurrentNodeID   string     `json:"currentNodeId"`
	NextExecutionAt *time.Time `json:"nextExecutionAt,omitempty"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

const executionColumns = `
	id, organization_id, automation_id, lead_id, status, current_node_id,
	next_execution_at, error_message, started_at, completed_at`

func scanExecution(row pgx.Row) (Execution, error) {
	var e Execution
	err := row.Scan(
		&e.ID, &e.OrganizationID, &e.AutomationID, &e.LeadID, &e.Status,
		&e.CurrentNodeID, &e.NextExecutionAt, &e.ErrorMessage, &e.StartedAt, &e.CompletedAt,
	)
	return e, err
}

// CreateExecution starts a new run at the entry node with status running.
func (r *Repository) CreateExecution(ctx context.Context, organizationID, automationID, leadID uuid.UUID, entryNodeID string) (Execution, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO automation_executions (organization_id, automation_id, lead_id, status, current_node_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING`+executionColumns,
		organizationID, automationID, leadID, StatusRunning, entryNodeID,
	)

	exec, err := scanExecution(row)
	if err != nil {
		return Execution{}, fmt.Errorf("create execution: %w", err)
	}
	return exec, nil
}

// GetExecution loads one execution.
func (r *Repository) GetExecution(ctx context.Context, executionID uuid.UUID) (Execution, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+executionColumns+`
		FROM automation_executions
		WHERE id = $1
	`, executionID)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Execution{}, ErrExecutionNotFound
		}
		return Execution{}, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns executions of an organization, optionally filtered
// by status, newest first.
func (r *Repository) ListExecutions(ctx context.Context, organizationID uuid.UUID, status *Status, limit, offset int) ([]Execution, error) {
	query := `
		SELECT` + executionColumns + `
		FROM automation_executions
		WHERE organization_id = $1`
	args := []interface{}{organizationID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += fmt.Sprintf(`
		ORDER BY started_at DESC
		LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	execs := make([]Execution, 0, limit)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// UpdateCurrentNode records progress inside a running pass.
func (r *Repository) UpdateCurrentNode(ctx context.Context, executionID uuid.UUID, nodeID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE automation_executions
		SET current_node_id = $2
		WHERE id = $1 AND status = $3
	`, executionID, nodeID, StatusRunning)
	if err != nil {
		return fmt.Errorf("update current node: %w", err)
	}
	return nil
}

// MarkWaiting suspends a running execution on its wait node until nextAt.
func (r *Repository) MarkWaiting(ctx context.Context, executionID uuid.UUID, nodeID string, nextAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE automation_executions
		SET status = $2, current_node_id = $3, next_execution_at = $4
		WHERE id = $1 AND status = $5
	`, executionID, StatusWaiting, nodeID, nextAt, StatusRunning)
	if err != nil {
		return fmt.Errorf("mark waiting: %w", err)
	}
	return nil
}

// ClaimWaiting performs the guarded waiting -> running transition. A false
// return means another invocation already claimed the execution; the caller
// skips it.
func (r *Repository) ClaimWaiting(ctx context.Context, executionID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE automation_executions
		SET status = $2, next_execution_at = NULL
		WHERE id = $1 AND status = $3
	`, executionID, StatusRunning, StatusWaiting)
	if err != nil {
		return false, fmt.Errorf("claim waiting execution: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted finishes an execution.
func (r *Repository) MarkCompleted(ctx context.Context, executionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE automation_executions
		SET status = $2, next_execution_at = NULL, completed_at = now()
		WHERE id = $1
	`, executionID, StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure with its diagnostic message.
func (r *Repository) MarkFailed(ctx context.Context, executionID uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE automation_executions
		SET status = $2, next_execution_at = NULL, error_message = $3, completed_at = now()
		WHERE id = $1
	`, executionID, StatusFailed, message)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ListDue returns waiting executions whose wait period has elapsed, oldest
// first, bounded by limit.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]Execution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+executionColumns+`
		FROM automation_executions
		WHERE status = $1 AND next_execution_at <= $2
		ORDER BY next_execution_at ASC
		LIMIT $3
	`, StatusWaiting, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due executions: %w", err)
	}
	defer rows.Close()

	execs := make([]Execution, 0, limit)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}
