package service

import (
	"context"
	"testing"
	"time"

	"leadflow_backend/internal/automation/repository"
	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeBus struct {
	published []events.Event
}

func (f *fakeBus) Publish(_ context.Context, event events.Event) {
	f.published = append(f.published, event)
}

func (f *fakeBus) PublishSync(_ context.Context, event events.Event) error {
	f.published = append(f.published, event)
	return nil
}

func (f *fakeBus) Subscribe(string, events.Handler) {}

type fakeStageLeads struct {
	inactive   []InactiveLead
	wantCutoff time.Time
	gotCutoff  time.Time
	moves      []uuid.UUID
	moveErr    error
}

func (f *fakeStageLeads) ListInactive(_ context.Context, _, _ uuid.UUID, cutoff time.Time, _ int) ([]InactiveLead, error) {
	f.gotCutoff = cutoff
	return f.inactive, nil
}

func (f *fakeStageLeads) MoveStage(_ context.Context, leadID, _, _ uuid.UUID) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, leadID)
	return nil
}

type alert struct {
	userID  uuid.UUID
	leadID  uuid.UUID
	message string
}

type fakeNotifier struct {
	alerts []alert
}

func (f *fakeNotifier) NotifyAgent(_ context.Context, _, userID, leadID uuid.UUID, message string) error {
	f.alerts = append(f.alerts, alert{userID: userID, leadID: leadID, message: message})
	return nil
}

func stageAutomation(action repository.StageAutomationAction, triggerDays int) repository.StageAutomation {
	target := uuid.New()
	return repository.StageAutomation{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		PipelineID:     uuid.New(),
		StageID:        uuid.New(),
		Action:         action,
		TriggerDays:    triggerDays,
		TargetStageID:  &target,
		Active:         true,
	}
}

func TestStageSweepMovesInactiveLeads(t *testing.T) {
	store := newFakeStore()
	automation := stageAutomation(repository.ActionMoveAfterInactivity, 3)
	store.stageAuto = []repository.StageAutomation{automation}

	lead := InactiveLead{LeadID: uuid.New(), OrganizationID: automation.OrganizationID, Name: "Ana"}
	leads := &fakeStageLeads{inactive: []InactiveLead{lead}}

	bus := &fakeBus{}
	sweeper := NewStageSweeper(store, leads, &fakeNotifier{}, bus, logger.New("development"))
	frozen := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	sweeper.SetClock(func() time.Time { return frozen })

	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Processed != 1 || report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want one successful move", report)
	}

	wantCutoff := frozen.Add(-3 * 24 * time.Hour)
	if !leads.gotCutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff = %s, want %s", leads.gotCutoff, wantCutoff)
	}
	if len(leads.moves) != 1 || leads.moves[0] != lead.LeadID {
		t.Fatalf("moves = %v, want the inactive lead", leads.moves)
	}
	if len(store.runs) != 1 || store.runs[0].action != "stage_moved" {
		t.Fatalf("runs = %+v, want one stage_moved record", store.runs)
	}

	if len(bus.published) != 1 {
		t.Fatalf("published = %+v, want one event", bus.published)
	}
	changed, ok := bus.published[0].(events.LeadStageChanged)
	if !ok {
		t.Fatalf("published %T, want LeadStageChanged", bus.published[0])
	}
	if changed.LeadID != lead.LeadID || changed.StageID != *automation.TargetStageID {
		t.Fatalf("unexpected stage change event: %+v", changed)
	}
}

func TestStageSweepAlertsAssignedAgent(t *testing.T) {
	store := newFakeStore()
	automation := stageAutomation(repository.ActionAlertOnInactivity, 2)
	automation.AlertMessage = "follow up with this lead"
	store.stageAuto = []repository.StageAutomation{automation}

	agent := uuid.New()
	assigned := InactiveLead{
		LeadID:         uuid.New(),
		OrganizationID: automation.OrganizationID,
		AssignedUserID: &agent,
		Name:           "Bruno",
	}
	unassigned := InactiveLead{LeadID: uuid.New(), OrganizationID: automation.OrganizationID, Name: "Carla"}
	leads := &fakeStageLeads{inactive: []InactiveLead{assigned, unassigned}}

	notifier := &fakeNotifier{}
	sweeper := NewStageSweeper(store, leads, notifier, nil, logger.New("development"))

	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	// The unassigned lead is processed but has nobody to alert.
	if report.Processed != 2 || report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want one alert out of two leads", report)
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts = %+v, want exactly one", notifier.alerts)
	}
	if notifier.alerts[0].userID != agent || notifier.alerts[0].message != "follow up with this lead" {
		t.Fatalf("unexpected alert: %+v", notifier.alerts[0])
	}
	if len(store.runs) != 1 || store.runs[0].action != "alert_sent" {
		t.Fatalf("runs = %+v, want one alert_sent record", store.runs)
	}
}

func TestStageSweepDoesNotRefireWithinWindow(t *testing.T) {
	store := newFakeStore()
	automation := stageAutomation(repository.ActionMoveAfterInactivity, 3)
	store.stageAuto = []repository.StageAutomation{automation}

	lead := InactiveLead{LeadID: uuid.New(), OrganizationID: automation.OrganizationID}
	leads := &fakeStageLeads{inactive: []InactiveLead{lead}}

	// The automation already fired for this lead an hour ago.
	store.lastRuns[automation.ID.String()+lead.LeadID.String()] = time.Now().Add(-time.Hour)

	sweeper := NewStageSweeper(store, leads, &fakeNotifier{}, nil, logger.New("development"))

	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Processed != 1 || report.Succeeded != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want a processed-only pass", report)
	}
	if len(leads.moves) != 0 {
		t.Fatal("a rule must not re-fire inside the same inactivity window")
	}
}

func TestStageSweepFailureIsolation(t *testing.T) {
	store := newFakeStore()
	automation := stageAutomation(repository.ActionMoveAfterInactivity, 1)
	automation.TargetStageID = nil // misconfigured: nothing to move to
	store.stageAuto = []repository.StageAutomation{automation}

	leads := &fakeStageLeads{inactive: []InactiveLead{
		{LeadID: uuid.New(), OrganizationID: automation.OrganizationID},
		{LeadID: uuid.New(), OrganizationID: automation.OrganizationID},
	}}

	sweeper := NewStageSweeper(store, leads, &fakeNotifier{}, nil, logger.New("development"))

	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Processed != 2 || report.Failed != 2 {
		t.Fatalf("report = %+v, want both leads counted as failed", report)
	}
}
