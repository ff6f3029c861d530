// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published when a new lead is persisted through intake.
type LeadCreated struct {
	BaseEvent
	LeadID         uuid.UUID  `json:"leadId"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	PipelineID     *uuid.UUID `json:"pipelineId,omitempty"`
	Source         string     `json:"source"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadAssigned is published after a successful round-robin assignment.
type LeadAssigned struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	QueueID        uuid.UUID `json:"queueId"`
	UserID         uuid.UUID `json:"userId"`
	Reason         string    `json:"reason"`
}

func (e LeadAssigned) EventName() string { return "routing.lead.assigned" }

// LeadStageChanged is published when a lead moves to a different stage.
type LeadStageChanged struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	StageID        uuid.UUID `json:"stageId"`
}

func (e LeadStageChanged) EventName() string { return "leads.lead.stage_changed" }

// AutomationExecutionFailed is published when an automation run transitions
// to the failed status, for operator-facing alerting.
type AutomationExecutionFailed struct {
	BaseEvent
	ExecutionID    uuid.UUID `json:"executionId"`
	AutomationID   uuid.UUID `json:"automationId"`
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	ErrorMessage   string    `json:"errorMessage"`
	FailedAt       time.Time `json:"failedAt"`
}

func (e AutomationExecutionFailed) EventName() string { return "automation.execution.failed" }
