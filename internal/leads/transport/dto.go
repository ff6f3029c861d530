// Package transport defines the request/response DTOs of the leads module.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// CreateLeadRequest is the intake payload. Assignment fields are not
// accepted; routing claims the lead after persistence.
type CreateLeadRequest struct {
	OrganizationID uuid.UUID  `json:"organizationId" validate:"required"`
	PipelineID     *uuid.UUID `json:"pipelineId,omitempty"`
	StageID        *uuid.UUID `json:"stageId,omitempty"`
	Name           string     `json:"name" validate:"max=200"`
	Phone          string     `json:"phone" validate:"max=32"`
	Source         string     `json:"source" validate:"required,max=100"`
	CampaignName   string     `json:"campaignName" validate:"max=200"`
	OriginFormID   *uuid.UUID `json:"originFormId,omitempty"`
	Tags           []string   `json:"tags,omitempty" validate:"dive,max=64"`
	City           string     `json:"city" validate:"max=120"`
}

// LeadResponse is the outward view of a lead.
type LeadResponse struct {
	ID                  uuid.UUID  `json:"id"`
	OrganizationID      uuid.UUID  `json:"organizationId"`
	PipelineID          *uuid.UUID `json:"pipelineId,omitempty"`
	StageID             *uuid.UUID `json:"stageId,omitempty"`
	Name                string     `json:"name"`
	Phone               string     `json:"phone"`
	Source              string     `json:"source"`
	CampaignName        string     `json:"campaignName"`
	OriginFormID        *uuid.UUID `json:"originFormId,omitempty"`
	Tags                []string   `json:"tags"`
	City                string     `json:"city"`
	AssignedUserID      *uuid.UUID `json:"assignedUserId,omitempty"`
	AssignedAt          *time.Time `json:"assignedAt,omitempty"`
	FirstResponseAt     *time.Time `json:"firstResponseAt,omitempty"`
	RedistributionCount int        `json:"redistributionCount"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// LeadListResponse wraps a page of leads.
type LeadListResponse struct {
	Items []LeadResponse `json:"items"`
}
