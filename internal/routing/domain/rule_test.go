package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func activeRule(priority int, criteria MatchCriteria) Rule {
	return Rule{
		ID:          uuid.New(),
		QueueID:     uuid.New(),
		Priority:    priority,
		Active:      true,
		QueueActive: true,
		Criteria:    criteria,
	}
}

func TestMatchRulesPicksLowestPriority(t *testing.T) {
	snap := LeadSnapshot{Source: "facebook"}
	specific := activeRule(1, MatchCriteria{Sources: []string{"facebook"}})
	catchAll := activeRule(10, MatchCriteria{})

	decision, ok := MatchRules([]Rule{catchAll, specific}, snap, time.Now())
	if !ok {
		t.Fatal("expected a match")
	}
	if decision.QueueID != specific.QueueID {
		t.Fatalf("matched queue %s, want the priority-1 rule's queue", decision.QueueID)
	}
	if decision.Reason != ReasonRuleMatch {
		t.Fatalf("reason = %s, want %s", decision.Reason, ReasonRuleMatch)
	}
	if decision.RuleID == nil || *decision.RuleID != specific.ID {
		t.Fatal("decision does not reference the matched rule")
	}
}

func TestMatchRulesSkipsInactiveRuleAndQueue(t *testing.T) {
	snap := LeadSnapshot{Source: "facebook"}

	inactiveRule := activeRule(1, MatchCriteria{})
	inactiveRule.Active = false

	deadQueueRule := activeRule(2, MatchCriteria{})
	deadQueueRule.QueueActive = false

	fallback := activeRule(3, MatchCriteria{})

	decision, ok := MatchRules([]Rule{inactiveRule, deadQueueRule, fallback}, snap, time.Now())
	if !ok {
		t.Fatal("expected a match")
	}
	if decision.QueueID != fallback.QueueID {
		t.Fatal("matched a rule that should have been skipped")
	}
}

func TestMatchRulesNoMatch(t *testing.T) {
	snap := LeadSnapshot{Source: "organic"}
	rule := activeRule(1, MatchCriteria{Sources: []string{"facebook"}})

	if _, ok := MatchRules([]Rule{rule}, snap, time.Now()); ok {
		t.Fatal("expected no match")
	}
}

func TestEmptyCriteriaIsCatchAll(t *testing.T) {
	if !(MatchCriteria{}).Matches(LeadSnapshot{}, time.Now()) {
		t.Fatal("empty criteria must match every lead")
	}
}

func TestCriteriaAndSemantics(t *testing.T) {
	pipeline := uuid.New()
	snap := LeadSnapshot{
		PipelineID:   &pipeline,
		Source:       "Facebook",
		CampaignName: "Summer Solar Promo",
		Tags:         []string{"hot", "solar"},
		City:         "Campinas",
	}

	matching := MatchCriteria{
		PipelineID:       &pipeline,
		Sources:          []string{"facebook"},
		CampaignContains: "solar",
		RequiredTags:     []string{"hot"},
		Cities:           []string{"campinas"},
	}
	if !matching.Matches(snap, time.Now()) {
		t.Fatal("all-fields criteria should match")
	}

	mismatched := matching
	mismatched.RequiredTags = []string{"hot", "cold"}
	if mismatched.Matches(snap, time.Now()) {
		t.Fatal("one failing predicate must fail the whole criteria")
	}
}

func TestScheduleWindowSameDay(t *testing.T) {
	window := ScheduleWindow{
		Weekdays: []time.Weekday{time.Saturday},
		Start:    "09:00",
		End:      "13:00",
	}

	saturdayMorning := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	if !window.Contains(saturdayMorning) {
		t.Fatal("saturday 10:30 should be inside the window")
	}

	saturdayEvening := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	if window.Contains(saturdayEvening) {
		t.Fatal("saturday 15:00 should be outside the window")
	}

	fridayMorning := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	if window.Contains(fridayMorning) {
		t.Fatal("friday should be outside a saturday-only window")
	}
}

func TestScheduleWindowCrossesMidnight(t *testing.T) {
	window := ScheduleWindow{Start: "22:00", End: "02:00"}

	lateNight := time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC)
	if !window.Contains(lateNight) {
		t.Fatal("23:30 should be inside a 22:00-02:00 window")
	}

	earlyMorning := time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC)
	if !window.Contains(earlyMorning) {
		t.Fatal("01:00 should be inside a 22:00-02:00 window")
	}

	afternoon := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)
	if window.Contains(afternoon) {
		t.Fatal("15:00 should be outside a 22:00-02:00 window")
	}
}

func TestScheduleWindowRejectsBadTimes(t *testing.T) {
	window := ScheduleWindow{Start: "25:00", End: "13:00"}
	if window.Validate() == nil {
		t.Fatal("expected validation error for 25:00")
	}
	if window.Contains(time.Now()) {
		t.Fatal("an invalid window must not match")
	}
}
