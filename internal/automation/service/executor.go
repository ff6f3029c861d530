// Package service implements the automation execution engine: the graph
// executor, the delay processor that resumes waiting executions, and the
// stage-inactivity sweeper.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/automation/graph"
	"leadflow_backend/internal/automation/repository"
	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// maxErrorBytes bounds the failure message persisted on an execution.
const maxErrorBytes = 500

// Store is the persistence surface the automation services consume,
// implemented by the automation repository.
type Store interface {
	GetDefinition(ctx context.Context, definitionID uuid.UUID) (repository.Definition, error)
	ListActiveDefinitionsForPipeline(ctx context.Context, organizationID uuid.UUID, pipelineID *uuid.UUID) ([]repository.Definition, error)
	CreateExecution(ctx context.Context, organizationID, automationID, leadID uuid.UUID, entryNodeID string) (repository.Execution, error)
	GetExecution(ctx context.Context, executionID uuid.UUID) (repository.Execution, error)
	ListExecutions(ctx context.Context, organizationID uuid.UUID, status *repository.Status, limit, offset int) ([]repository.Execution, error)
	UpdateCurrentNode(ctx context.Context, executionID uuid.UUID, nodeID string) error
	MarkWaiting(ctx context.Context, executionID uuid.UUID, nodeID string, nextAt time.Time) error
	ClaimWaiting(ctx context.Context, executionID uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, executionID uuid.UUID) error
	MarkFailed(ctx context.Context, executionID uuid.UUID, message string) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]repository.Execution, error)
	ListActiveStageAutomations(ctx context.Context) ([]repository.StageAutomation, error)
	LogStageAutomationRun(ctx context.Context, stageAutomationID, leadID uuid.UUID, action, message string) error
	LastRunAt(ctx context.Context, stageAutomationID, leadID uuid.UUID) (*time.Time, error)
}

// LeadProfile is the lead state the executor reads for conditions and
// message sends.
type LeadProfile struct {
	LeadID         uuid.UUID
	OrganizationID uuid.UUID
	PipelineID     *uuid.UUID
	StageID        *uuid.UUID
	AssignedUserID *uuid.UUID
	Name           string
	Phone          string
	Source         string
	CampaignName   string
	City           string
	Tags           []string
}

// LeadStore is the slice of the leads module the executor consumes.
type LeadStore interface {
	Profile(ctx context.Context, leadID, organizationID uuid.UUID) (LeadProfile, error)
	ApplyTag(ctx context.Context, leadID, organizationID uuid.UUID, tag string) error
	MarkFirstResponse(ctx context.Context, leadID, organizationID uuid.UUID) error
}

// Messenger sends outbound messages over a channel instance.
type Messenger interface {
	SendMessage(ctx context.Context, instance, phone, text string) error
}

// Executor advances automation executions through their workflow graph.
type Executor struct {
	repo      Store
	leads     LeadStore
	messenger Messenger
	bus       events.Bus
	log       *logger.Logger
	maxSteps  int
	now       func() time.Time
}

func NewExecutor(repo Store, leads LeadStore, messenger Messenger, bus events.Bus, log *logger.Logger, maxSteps int) *Executor {
	if maxSteps <= 0 {
		maxSteps = 100
	}
	return &Executor{
		repo:      repo,
		leads:     leads,
		messenger: messenger,
		bus:       bus,
		log:       log,
		maxSteps:  maxSteps,
		now:       time.Now,
	}
}

// SetClock overrides the time source for tests.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Start creates an execution of the definition for the lead at its entry
// node and runs it until it completes, suspends on a wait, or fails.
// Inactive definitions are skipped without creating an execution.
func (e *Executor) Start(ctx context.Context, def repository.Definition, leadID uuid.UUID) (*repository.Execution, error) {
	if !def.Active {
		return nil, nil
	}

	exec, err := e.repo.CreateExecution(ctx, def.OrganizationID, def.ID, leadID, def.EntryNodeID)
	if err != nil {
		return nil, err
	}

	// Validate after creating the row so a malformed definition surfaces
	// as a visible failed execution rather than a log line.
	if err := def.Graph.Validate(); err != nil {
		e.fail(ctx, &exec, fmt.Sprintf("invalid definition: %v", err))
		return &exec, nil
	}

	if err := e.run(ctx, def, &exec, exec.CurrentNodeID); err != nil {
		e.fail(ctx, &exec, fmt.Sprintf("execution aborted: %v", err))
		return &exec, err
	}
	return &exec, nil
}

// Resume picks up a waiting execution whose wait period has elapsed. The
// waiting -> running transition is guarded so concurrent sweeps process
// each execution at most once; a false return means nothing was done.
func (e *Executor) Resume(ctx context.Context, executionID uuid.UUID) (bool, error) {
	exec, err := e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return false, err
	}
	if exec.Status != repository.StatusWaiting {
		return false, nil
	}

	claimed, err := e.repo.ClaimWaiting(ctx, executionID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	exec.Status = repository.StatusRunning

	def, err := e.repo.GetDefinition(ctx, exec.AutomationID)
	if err != nil {
		e.fail(ctx, &exec, fmt.Sprintf("load definition: %v", err))
		return true, nil
	}
	if !def.Active {
		// The definition was deactivated while this execution slept.
		e.fail(ctx, &exec, "automation definition deactivated")
		return true, nil
	}

	// The current node is the wait node the execution slept on. The wait
	// already elapsed, so resumption continues from its outgoing edge.
	startNode := exec.CurrentNodeID
	if wait, ok := def.Graph.Nodes[exec.CurrentNodeID].(graph.WaitNode); ok {
		startNode = wait.Next
	}

	if err := e.run(ctx, def, &exec, startNode); err != nil {
		// The claim already moved the execution to running and cleared its
		// due timestamp; without a failure mark no sweep would ever pick
		// it up again.
		e.fail(ctx, &exec, fmt.Sprintf("resume aborted: %v", err))
		return true, err
	}
	return true, nil
}

// run advances the execution from nodeID until a terminal state or a wait.
func (e *Executor) run(ctx context.Context, def repository.Definition, exec *repository.Execution, nodeID string) error {
	for steps := 0; ; steps++ {
		if steps >= e.maxSteps {
			e.fail(ctx, exec, fmt.Sprintf("execution exceeded %d steps, definition likely cyclic", e.maxSteps))
			return nil
		}

		node, ok := def.Graph.Nodes[nodeID]
		if !ok {
			e.fail(ctx, exec, fmt.Sprintf("node %q does not exist", nodeID))
			return nil
		}

		if err := e.repo.UpdateCurrentNode(ctx, exec.ID, nodeID); err != nil {
			return err
		}
		exec.CurrentNodeID = nodeID

		switch n := node.(type) {
		case graph.EndNode:
			if err := e.repo.MarkCompleted(ctx, exec.ID); err != nil {
				return err
			}
			exec.Status = repository.StatusCompleted
			return nil

		case graph.WaitNode:
			nextAt := e.now().Add(n.Duration)
			if err := e.repo.MarkWaiting(ctx, exec.ID, nodeID, nextAt); err != nil {
				return err
			}
			exec.Status = repository.StatusWaiting
			exec.NextExecutionAt = &nextAt
			return nil

		case graph.ActionNode:
			if err := e.performAction(ctx, exec, n); err != nil {
				e.fail(ctx, exec, fmt.Sprintf("action %q: %v", nodeID, err))
				return nil
			}
			nodeID = n.Next

		case graph.ConditionNode:
			target, err := e.evaluateCondition(ctx, exec, n)
			if err != nil {
				e.fail(ctx, exec, fmt.Sprintf("condition %q: %v", nodeID, err))
				return nil
			}
			nodeID = target

		default:
			e.fail(ctx, exec, fmt.Sprintf("node %q: unhandled type %q", nodeID, node.Type()))
			return nil
		}
	}
}

func (e *Executor) performAction(ctx context.Context, exec *repository.Execution, node graph.ActionNode) error {
	switch node.Action {
	case graph.ActionSendMessage:
		profile, err := e.leads.Profile(ctx, exec.LeadID, exec.OrganizationID)
		if err != nil {
			return fmt.Errorf("load lead: %w", err)
		}
		if profile.Phone == "" {
			return fmt.Errorf("lead has no phone number")
		}
		if err := e.messenger.SendMessage(ctx, node.Instance, profile.Phone, node.Message); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		// An automated outbound message counts as the first response to
		// the lead; the store keeps the timestamp write-once.
		if err := e.leads.MarkFirstResponse(ctx, exec.LeadID, exec.OrganizationID); err != nil {
			e.log.Warn("mark first response after automated send failed",
				"leadId", exec.LeadID, "error", err)
		}
		return nil

	case graph.ActionApplyTag:
		if err := e.leads.ApplyTag(ctx, exec.LeadID, exec.OrganizationID, node.Tag); err != nil {
			return fmt.Errorf("apply tag %q: %w", node.Tag, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", node.Action)
	}
}

// evaluateCondition resolves the outgoing edge of a condition node: the edge
// labeled with the boolean result when present, otherwise the default edge.
func (e *Executor) evaluateCondition(ctx context.Context, exec *repository.Execution, node graph.ConditionNode) (string, error) {
	profile, err := e.leads.Profile(ctx, exec.LeadID, exec.OrganizationID)
	if err != nil {
		return "", fmt.Errorf("load lead: %w", err)
	}

	result, err := evaluate(profile, node.Field, node.Op, node.Value)
	if err != nil {
		return "", err
	}

	label := "false"
	if result {
		label = "true"
	}
	if target, ok := node.Edges[label]; ok {
		return target, nil
	}
	return node.Edges[graph.DefaultEdge], nil
}

func evaluate(profile LeadProfile, field, op, value string) (bool, error) {
	if op == "has_tag" || field == "tag" {
		for _, tag := range profile.Tags {
			if tag == value {
				return true, nil
			}
		}
		return false, nil
	}

	var actual string
	switch field {
	case "source":
		actual = profile.Source
	case "city":
		actual = profile.City
	case "campaign_name":
		actual = profile.CampaignName
	case "pipeline_id":
		if profile.PipelineID != nil {
			actual = profile.PipelineID.String()
		}
	case "stage_id":
		if profile.StageID != nil {
			actual = profile.StageID.String()
		}
	default:
		return false, fmt.Errorf("unknown condition field %q", field)
	}

	switch op {
	case "equals":
		return strings.EqualFold(actual, value), nil
	case "not_equals":
		return !strings.EqualFold(actual, value), nil
	case "contains":
		return strings.Contains(strings.ToLower(actual), strings.ToLower(value)), nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", op)
	}
}

// fail marks the execution failed with a bounded message and announces it.
func (e *Executor) fail(ctx context.Context, exec *repository.Execution, message string) {
	message = truncate(message, maxErrorBytes)

	if err := e.repo.MarkFailed(ctx, exec.ID, message); err != nil {
		e.log.Error("mark execution failed", "executionId", exec.ID, "error", err)
		return
	}
	exec.Status = repository.StatusFailed
	exec.ErrorMessage = &message

	e.log.Error("automation execution failed",
		"executionId", exec.ID, "automationId", exec.AutomationID,
		"leadId", exec.LeadID, "node", exec.CurrentNodeID, "reason", message)

	if e.bus != nil {
		e.bus.Publish(ctx, events.AutomationExecutionFailed{
			BaseEvent:      events.NewBaseEvent(),
			ExecutionID:    exec.ID,
			AutomationID:   exec.AutomationID,
			LeadID:         exec.LeadID,
			OrganizationID: exec.OrganizationID,
			ErrorMessage:   message,
			FailedAt:       e.now(),
		})
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
