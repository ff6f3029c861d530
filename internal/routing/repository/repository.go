// Package repository provides data access for routing queues, rules and
// assignment logs. All statements are tenant-scoped by organization_id.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/internal/routing/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrQueueNotFound    = errors.New("queue not found")
	ErrPipelineNotFound = errors.New("pipeline not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetQueue loads a queue with its members. Member activity is derived from
// the referenced user's active flag at read time.
func (r *Repository) GetQueue(ctx context.Context, queueID, organizationID uuid.UUID) (domain.Queue, error) {
	var q domain.Queue
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, is_active, strategy, last_assigned_index
		FROM routing_queues
		WHERE id = $1 AND organization_id = $2
	`, queueID, organizationID).Scan(&q.ID, &q.OrganizationID, &q.Name, &q.Active, &q.Strategy, &q.Cursor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Queue{}, ErrQueueNotFound
		}
		return domain.Queue{}, fmt.Errorf("get queue: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.user_id, m.position, m.weight, u.is_active
		FROM routing_queue_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.queue_id = $1
		ORDER BY m.position ASC
	`, queueID)
	if err != nil {
		return domain.Queue{}, fmt.Errorf("get queue members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.UserID, &m.Position, &m.Weight, &m.Active); err != nil {
			return domain.Queue{}, fmt.Errorf("scan queue member: %w", err)
		}
		q.Members = append(q.Members, m)
	}
	if rows.Err() != nil {
		return domain.Queue{}, rows.Err()
	}

	return q, nil
}

// ListQueues returns all queues of an organization without members.
func (r *Repository) ListQueues(ctx context.Context, organizationID uuid.UUID) ([]domain.Queue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, name, is_active, strategy, last_assigned_index
		FROM routing_queues
		WHERE organization_id = $1
		ORDER BY name ASC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	queues := make([]domain.Queue, 0)
	for rows.Next() {
		var q domain.Queue
		if err := rows.Scan(&q.ID, &q.OrganizationID, &q.Name, &q.Active, &q.Strategy, &q.Cursor); err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// AdvanceCursor moves the rotation cursor with an optimistic precondition on
// the value that was read. A false return means another selection advanced
// the cursor first; the caller re-reads and retries.
func (r *Repository) AdvanceCursor(ctx context.Context, queueID uuid.UUID, oldCursor, newCursor int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE routing_queues
		SET last_assigned_index = $3, updated_at = now()
		WHERE id = $1 AND last_assigned_index = $2
	`, queueID, oldCursor, newCursor)
	if err != nil {
		return false, fmt.Errorf("advance cursor: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListCandidateRules returns the organization's active rules joined with
// their queue's active flag. Pipeline restriction happens in the matcher via
// the rule's own pipeline predicate.
func (r *Repository) ListCandidateRules(ctx context.Context, organizationID uuid.UUID) ([]domain.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.queue_id, r.priority, r.is_active, q.is_active, r.criteria
		FROM routing_rules r
		JOIN routing_queues q ON q.id = r.queue_id
		WHERE r.organization_id = $1 AND r.is_active = TRUE
		ORDER BY r.priority ASC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]domain.Rule, 0)
	for rows.Next() {
		var rule domain.Rule
		var criteria []byte
		if err := rows.Scan(&rule.ID, &rule.QueueID, &rule.Priority, &rule.Active, &rule.QueueActive, &criteria); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if len(criteria) > 0 {
			if err := json.Unmarshal(criteria, &rule.Criteria); err != nil {
				return nil, fmt.Errorf("decode rule criteria %s: %w", rule.ID, err)
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// PipelineRouting carries a pipeline's fallback queue and pool settings.
type PipelineRouting struct {
	PipelineID          uuid.UUID
	OrganizationID      uuid.UUID
	DefaultQueueID      *uuid.UUID
	PoolEnabled         bool
	PoolTimeoutMinutes  int
	MaxRedistributions  int
}

// GetPipelineRouting loads the routing settings of one pipeline.
func (r *Repository) GetPipelineRouting(ctx context.Context, pipelineID, organizationID uuid.UUID) (PipelineRouting, error) {
	var p PipelineRouting
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, default_queue_id, pool_enabled, pool_timeout_minutes, pool_max_redistributions
		FROM pipelines
		WHERE id = $1 AND organization_id = $2
	`, pipelineID, organizationID).Scan(
		&p.PipelineID, &p.OrganizationID, &p.DefaultQueueID,
		&p.PoolEnabled, &p.PoolTimeoutMinutes, &p.MaxRedistributions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PipelineRouting{}, ErrPipelineNotFound
		}
		return PipelineRouting{}, fmt.Errorf("get pipeline routing: %w", err)
	}
	return p, nil
}

// ListPoolPipelines returns every pipeline with pool redistribution enabled,
// across all organizations. The sweep runs globally.
func (r *Repository) ListPoolPipelines(ctx context.Context) ([]PipelineRouting, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, default_queue_id, pool_enabled, pool_timeout_minutes, pool_max_redistributions
		FROM pipelines
		WHERE pool_enabled = TRUE AND default_queue_id IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list pool pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := make([]PipelineRouting, 0)
	for rows.Next() {
		var p PipelineRouting
		if err := rows.Scan(
			&p.PipelineID, &p.OrganizationID, &p.DefaultQueueID,
			&p.PoolEnabled, &p.PoolTimeoutMinutes, &p.MaxRedistributions,
		); err != nil {
			return nil, fmt.Errorf("scan pool pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// PoolCandidate is a lead eligible for pool redistribution.
type PoolCandidate struct {
	LeadID         uuid.UUID
	OrganizationID uuid.UUID
	AssignedUserID uuid.UUID
}

// ListPoolCandidates selects leads assigned before the cutoff that have not
// been engaged and have redistribution headroom.
func (r *Repository) ListPoolCandidates(ctx context.Context, pipelineID uuid.UUID, cutoff time.Time, maxRedistributions, limit int) ([]PoolCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, assigned_user_id
		FROM leads
		WHERE pipeline_id = $1
		  AND assigned_user_id IS NOT NULL
		  AND assigned_at < $2
		  AND first_response_at IS NULL
		  AND redistribution_count < $3
		ORDER BY assigned_at ASC
		LIMIT $4
	`, pipelineID, cutoff, maxRedistributions, limit)
	if err != nil {
		return nil, fmt.Errorf("list pool candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]PoolCandidate, 0)
	for rows.Next() {
		var c PoolCandidate
		if err := rows.Scan(&c.LeadID, &c.OrganizationID, &c.AssignedUserID); err != nil {
			return nil, fmt.Errorf("scan pool candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// AssignmentLog is one append-only assignment decision record.
type AssignmentLog struct {
	ID             uuid.UUID           `json:"id"`
	OrganizationID uuid.UUID           `json:"organizationId"`
	QueueID        uuid.UUID           `json:"queueId"`
	LeadID         uuid.UUID           `json:"leadId"`
	MemberID       uuid.UUID           `json:"memberId"`
	UserID         uuid.UUID           `json:"userId"`
	Reason         domain.AssignReason `json:"reason"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// LogAssignment appends one assignment decision.
func (r *Repository) LogAssignment(ctx context.Context, log AssignmentLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assignment_logs (organization_id, queue_id, lead_id, member_id, user_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.OrganizationID, log.QueueID, log.LeadID, log.MemberID, log.UserID, log.Reason)
	if err != nil {
		return fmt.Errorf("log assignment: %w", err)
	}
	return nil
}

// ListAssignments returns a lead's assignment history, newest first.
func (r *Repository) ListAssignments(ctx context.Context, leadID, organizationID uuid.UUID) ([]AssignmentLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, queue_id, lead_id, member_id, user_id, reason, created_at
		FROM assignment_logs
		WHERE lead_id = $1 AND organization_id = $2
		ORDER BY created_at DESC
	`, leadID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	logs := make([]AssignmentLog, 0)
	for rows.Next() {
		var l AssignmentLog
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.QueueID, &l.LeadID, &l.MemberID, &l.UserID, &l.Reason, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
