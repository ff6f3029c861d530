// Package domain contains the pure routing logic: rule matching and
// round-robin member selection. Nothing here touches storage or the network.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssignReason describes why a lead was assigned to a member.
type AssignReason string

const (
	ReasonRuleMatch   AssignReason = "rule_match"
	ReasonFallback    AssignReason = "fallback"
	ReasonManual      AssignReason = "manual"
	ReasonPoolTimeout AssignReason = "pool_timeout"
)

// LeadSnapshot is the immutable view of a lead the matcher evaluates.
type LeadSnapshot struct {
	LeadID         uuid.UUID
	OrganizationID uuid.UUID
	PipelineID     *uuid.UUID
	StageID        *uuid.UUID
	Source         string
	CampaignName   string
	OriginFormID   *uuid.UUID
	Tags           []string
	City           string
}

// ScheduleWindow restricts a rule to a weekday set and a time-of-day range.
// A window whose Start is later than its End crosses midnight and matches
// times after Start on one day or before End on the next.
type ScheduleWindow struct {
	Weekdays []time.Weekday `json:"weekdays"`
	Start    string         `json:"start"` // "15:04"
	End      string         `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w ScheduleWindow) Contains(t time.Time) bool {
	if len(w.Weekdays) > 0 && !containsWeekday(w.Weekdays, t.Weekday()) {
		return false
	}

	start, err := minutesOfDay(w.Start)
	if err != nil {
		return false
	}
	end, err := minutesOfDay(w.End)
	if err != nil {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now <= end
	}
	// Window crosses midnight.
	return now >= start || now <= end
}

// Validate checks the window's time strings.
func (w ScheduleWindow) Validate() error {
	if _, err := minutesOfDay(w.Start); err != nil {
		return fmt.Errorf("invalid schedule start %q", w.Start)
	}
	if _, err := minutesOfDay(w.End); err != nil {
		return fmt.Errorf("invalid schedule end %q", w.End)
	}
	return nil
}

// MatchCriteria is a structured predicate over lead attributes.
// Absent fields are wildcards; all present fields must match (AND semantics).
// An entirely empty criteria is an intentional catch-all: it matches every
// lead and competes on priority like any other rule.
type MatchCriteria struct {
	PipelineID       *uuid.UUID      `json:"pipelineId,omitempty"`
	Sources          []string        `json:"sources,omitempty"`
	CampaignContains string          `json:"campaignContains,omitempty"`
	OriginFormIDs    []uuid.UUID     `json:"originFormIds,omitempty"`
	RequiredTags     []string        `json:"requiredTags,omitempty"`
	Cities           []string        `json:"cities,omitempty"`
	Schedule         *ScheduleWindow `json:"schedule,omitempty"`
}

// Matches evaluates the criteria against a lead snapshot at the given instant.
func (c MatchCriteria) Matches(snap LeadSnapshot, now time.Time) bool {
	if c.PipelineID != nil {
		if snap.PipelineID == nil || *snap.PipelineID != *c.PipelineID {
			return false
		}
	}

	if len(c.Sources) > 0 && !containsFold(c.Sources, snap.Source) {
		return false
	}

	if c.CampaignContains != "" &&
		!strings.Contains(strings.ToLower(snap.CampaignName), strings.ToLower(c.CampaignContains)) {
		return false
	}

	if len(c.OriginFormIDs) > 0 {
		if snap.OriginFormID == nil || !containsUUID(c.OriginFormIDs, *snap.OriginFormID) {
			return false
		}
	}

	for _, required := range c.RequiredTags {
		if !containsFold(snap.Tags, required) {
			return false
		}
	}

	if len(c.Cities) > 0 && !containsFold(c.Cities, snap.City) {
		return false
	}

	if c.Schedule != nil && !c.Schedule.Contains(now) {
		return false
	}

	return true
}

// Rule routes leads matching its criteria to a queue.
type Rule struct {
	ID          uuid.UUID
	QueueID     uuid.UUID
	Priority    int
	Active      bool
	QueueActive bool
	Criteria    MatchCriteria
}

// RouteDecision is the outcome of matching a lead against the rule set.
type RouteDecision struct {
	QueueID uuid.UUID
	RuleID  *uuid.UUID
	Reason  AssignReason
}

// MatchRules evaluates rules in ascending priority order and returns the
// decision for the first active rule, targeting an active queue, that
// matches the snapshot. The boolean is false when no rule matched.
func MatchRules(rules []Rule, snap LeadSnapshot, now time.Time) (RouteDecision, bool) {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for _, rule := range ordered {
		if !rule.Active || !rule.QueueActive {
			continue
		}
		if !rule.Criteria.Matches(snap, now) {
			continue
		}

		ruleID := rule.ID
		return RouteDecision{
			QueueID: rule.QueueID,
			RuleID:  &ruleID,
			Reason:  ReasonRuleMatch,
		}, true
	}

	return RouteDecision{}, false
}

func minutesOfDay(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func containsWeekday(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return true
		}
	}
	return false
}

func containsUUID(values []uuid.UUID, target uuid.UUID) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
