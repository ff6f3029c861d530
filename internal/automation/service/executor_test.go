package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"leadflow_backend/internal/automation/graph"
	"leadflow_backend/internal/automation/repository"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store for executor and sweep tests.
type fakeStore struct {
	defs      map[uuid.UUID]repository.Definition
	execs     map[uuid.UUID]*repository.Execution
	stageAuto []repository.StageAutomation
	runs      []stageRun
	lastRuns  map[string]time.Time
}

type stageRun struct {
	automationID uuid.UUID
	leadID       uuid.UUID
	action       string
	message      string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		defs:     make(map[uuid.UUID]repository.Definition),
		execs:    make(map[uuid.UUID]*repository.Execution),
		lastRuns: make(map[string]time.Time),
	}
}

func (f *fakeStore) GetDefinition(_ context.Context, id uuid.UUID) (repository.Definition, error) {
	def, ok := f.defs[id]
	if !ok {
		return repository.Definition{}, repository.ErrDefinitionNotFound
	}
	return def, nil
}

func (f *fakeStore) ListActiveDefinitionsForPipeline(_ context.Context, orgID uuid.UUID, pipelineID *uuid.UUID) ([]repository.Definition, error) {
	var defs []repository.Definition
	for _, def := range f.defs {
		if def.OrganizationID != orgID || !def.Active {
			continue
		}
		if def.PipelineID != nil && (pipelineID == nil || *def.PipelineID != *pipelineID) {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (f *fakeStore) CreateExecution(_ context.Context, orgID, automationID, leadID uuid.UUID, entryNodeID string) (repository.Execution, error) {
	exec := repository.Execution{
		ID:             uuid.New(),
		OrganizationID: orgID,
		AutomationID:   automationID,
		LeadID:         leadID,
		Status:         repository.StatusRunning,
		CurrentNodeID:  entryNodeID,
		StartedAt:      time.Now(),
	}
	f.execs[exec.ID] = &exec
	return exec, nil
}

func (f *fakeStore) GetExecution(_ context.Context, id uuid.UUID) (repository.Execution, error) {
	exec, ok := f.execs[id]
	if !ok {
		return repository.Execution{}, repository.ErrExecutionNotFound
	}
	return *exec, nil
}

func (f *fakeStore) ListExecutions(_ context.Context, orgID uuid.UUID, status *repository.Status, limit, _ int) ([]repository.Execution, error) {
	var execs []repository.Execution
	for _, exec := range f.execs {
		if exec.OrganizationID != orgID {
			continue
		}
		if status != nil && exec.Status != *status {
			continue
		}
		execs = append(execs, *exec)
		if len(execs) == limit {
			break
		}
	}
	return execs, nil
}

func (f *fakeStore) UpdateCurrentNode(_ context.Context, id uuid.UUID, nodeID string) error {
	if exec, ok := f.execs[id]; ok && exec.Status == repository.StatusRunning {
		exec.CurrentNodeID = nodeID
	}
	return nil
}

func (f *fakeStore) MarkWaiting(_ context.Context, id uuid.UUID, nodeID string, nextAt time.Time) error {
	exec, ok := f.execs[id]
	if !ok || exec.Status != repository.StatusRunning {
		return nil
	}
	exec.Status = repository.StatusWaiting
	exec.CurrentNodeID = nodeID
	at := nextAt
	exec.NextExecutionAt = &at
	return nil
}

func (f *fakeStore) ClaimWaiting(_ context.Context, id uuid.UUID) (bool, error) {
	exec, ok := f.execs[id]
	if !ok || exec.Status != repository.StatusWaiting {
		return false, nil
	}
	exec.Status = repository.StatusRunning
	exec.NextExecutionAt = nil
	return true, nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, id uuid.UUID) error {
	if exec, ok := f.execs[id]; ok {
		exec.Status = repository.StatusCompleted
		exec.NextExecutionAt = nil
	}
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, message string) error {
	if exec, ok := f.execs[id]; ok {
		exec.Status = repository.StatusFailed
		exec.NextExecutionAt = nil
		exec.ErrorMessage = &message
	}
	return nil
}

func (f *fakeStore) ListDue(_ context.Context, now time.Time, limit int) ([]repository.Execution, error) {
	var due []repository.Execution
	for _, exec := range f.execs {
		if exec.Status != repository.StatusWaiting || exec.NextExecutionAt == nil {
			continue
		}
		if exec.NextExecutionAt.After(now) {
			continue
		}
		due = append(due, *exec)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (f *fakeStore) ListActiveStageAutomations(_ context.Context) ([]repository.StageAutomation, error) {
	return f.stageAuto, nil
}

func (f *fakeStore) LogStageAutomationRun(_ context.Context, automationID, leadID uuid.UUID, action, message string) error {
	f.runs = append(f.runs, stageRun{automationID: automationID, leadID: leadID, action: action, message: message})
	f.lastRuns[automationID.String()+leadID.String()] = time.Now()
	return nil
}

func (f *fakeStore) LastRunAt(_ context.Context, automationID, leadID uuid.UUID) (*time.Time, error) {
	if at, ok := f.lastRuns[automationID.String()+leadID.String()]; ok {
		return &at, nil
	}
	return nil, nil
}

type fakeLeads struct {
	profiles       map[uuid.UUID]LeadProfile
	tags           []string
	firstResponses int
}

func (f *fakeLeads) Profile(_ context.Context, leadID, _ uuid.UUID) (LeadProfile, error) {
	profile, ok := f.profiles[leadID]
	if !ok {
		return LeadProfile{}, errors.New("lead not found")
	}
	return profile, nil
}

func (f *fakeLeads) ApplyTag(_ context.Context, _, _ uuid.UUID, tag string) error {
	f.tags = append(f.tags, tag)
	return nil
}

func (f *fakeLeads) MarkFirstResponse(_ context.Context, _, _ uuid.UUID) error {
	f.firstResponses++
	return nil
}

type sentMessage struct {
	instance string
	phone    string
	text     string
}

type fakeMessenger struct {
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, instance, phone, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{instance: instance, phone: phone, text: text})
	return nil
}

func mustParse(t *testing.T, nodesJSON string) map[string]graph.Node {
	t.Helper()
	nodes, err := graph.ParseNodes([]byte(nodesJSON))
	if err != nil {
		t.Fatalf("ParseNodes: %v", err)
	}
	return nodes
}

func definition(t *testing.T, store *fakeStore, entry, nodesJSON string) repository.Definition {
	t.Helper()
	def := repository.Definition{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Name:           "test",
		Active:         true,
		EntryNodeID:    entry,
		Graph: graph.Definition{
			Name:        "test",
			Active:      true,
			EntryNodeID: entry,
			Nodes:       mustParse(t, nodesJSON),
		},
	}
	store.defs[def.ID] = def
	return def
}

func newTestExecutor(store *fakeStore, leads *fakeLeads, messenger *fakeMessenger) *Executor {
	return NewExecutor(store, leads, messenger, nil, logger.New("development"), 100)
}

func TestStartRunsActionsToCompletion(t *testing.T) {
	store := newFakeStore()
	leadID := uuid.New()
	leads := &fakeLeads{profiles: map[uuid.UUID]LeadProfile{
		leadID: {LeadID: leadID, Phone: "+5511999990000"},
	}}
	messenger := &fakeMessenger{}

	def := definition(t, store, "greet", `[
		{"id": "greet", "type": "action", "action": "send_message", "instance": "sales-1", "message": "welcome", "next": "tag"},
		{"id": "tag", "type": "action", "action": "apply_tag", "tag": "contacted", "next": "done"},
		{"id": "done", "type": "end"}
	]`)

	exec, err := newTestExecutor(store, leads, messenger).Start(context.Background(), def, leadID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec.Status != repository.StatusCompleted {
		t.Fatalf("status = %s, want completed", exec.Status)
	}
	if len(messenger.sent) != 1 || messenger.sent[0].text != "welcome" || messenger.sent[0].instance != "sales-1" {
		t.Fatalf("unexpected sends: %+v", messenger.sent)
	}
	if leads.firstResponses != 1 {
		t.Fatal("an automated send must mark the first response")
	}
	if len(leads.tags) != 1 || leads.tags[0] != "contacted" {
		t.Fatalf("unexpected tags: %v", leads.tags)
	}
}

func TestStartSkipsInactiveDefinition(t *testing.T) {
	store := newFakeStore()
	def := definition(t, store, "done", `[{"id": "done", "type": "end"}]`)
	def.Active = false

	exec, err := newTestExecutor(store, &fakeLeads{}, &fakeMessenger{}).Start(context.Background(), def, uuid.New())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec != nil {
		t.Fatal("inactive definitions must not create executions")
	}
}

func TestStartFailsExecutionOnInvalidGraph(t *testing.T) {
	store := newFakeStore()
	def := definition(t, store, "start", `[
		{"id": "start", "type": "action", "action": "apply_tag", "tag": "x", "next": "missing"}
	]`)

	exec, err := newTestExecutor(store, &fakeLeads{}, &fakeMessenger{}).Start(context.Background(), def, uuid.New())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec == nil {
		t.Fatal("a malformed definition must still produce a visible execution")
	}
	if exec.Status != repository.StatusFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if exec.ErrorMessage == nil || !strings.Contains(*exec.ErrorMessage, "invalid definition") {
		t.Fatalf("error = %v, want the validation diagnostic", exec.ErrorMessage)
	}
}

func TestWaitNodeSuspendsExecution(t *testing.T) {
	store := newFakeStore()
	def := definition(t, store, "pause", `[
		{"id": "pause", "type": "wait", "waitDuration": "24h", "next": "done"},
		{"id": "done", "type": "end"}
	]`)

	executor := newTestExecutor(store, &fakeLeads{}, &fakeMessenger{})
	frozen := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	executor.SetClock(func() time.Time { return frozen })

	exec, err := executor.Start(context.Background(), def, uuid.New())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec.Status != repository.StatusWaiting {
		t.Fatalf("status = %s, want waiting", exec.Status)
	}
	if exec.CurrentNodeID != "pause" {
		t.Fatalf("current node = %s, want the wait node", exec.CurrentNodeID)
	}
	want := frozen.Add(24 * time.Hour)
	if exec.NextExecutionAt == nil || !exec.NextExecutionAt.Equal(want) {
		t.Fatalf("next execution = %v, want %s", exec.NextExecutionAt, want)
	}
}

func TestResumeAdvancesPastWaitNode(t *testing.T) {
	store := newFakeStore()
	leadID := uuid.New()
	leads := &fakeLeads{profiles: map[uuid.UUID]LeadProfile{leadID: {LeadID: leadID}}}
	def := definition(t, store, "pause", `[
		{"id": "pause", "type": "wait", "waitDuration": "1h", "next": "tag"},
		{"id": "tag", "type": "action", "action": "apply_tag", "tag": "followup", "next": "done"},
		{"id": "done", "type": "end"}
	]`)

	executor := newTestExecutor(store, leads, &fakeMessenger{})
	exec, err := executor.Start(context.Background(), def, leadID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resumed, err := executor.Resume(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !resumed {
		t.Fatal("expected the execution to be resumed")
	}

	final := *store.execs[exec.ID]
	if final.Status != repository.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	// The wait elapsed; resumption must not re-enter the wait node.
	if len(leads.tags) != 1 || leads.tags[0] != "followup" {
		t.Fatalf("unexpected tags after resume: %v", leads.tags)
	}
}

func TestResumeNonWaitingIsNoOp(t *testing.T) {
	store := newFakeStore()
	def := definition(t, store, "done", `[{"id": "done", "type": "end"}]`)

	executor := newTestExecutor(store, &fakeLeads{}, &fakeMessenger{})
	exec, err := executor.Start(context.Background(), def, uuid.New())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resumed, err := executor.Resume(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed {
		t.Fatal("completed executions must not be resumed")
	}
}

func TestResumeFailsWhenDefinitionDeactivated(t *testing.T) {
	store := newFakeStore()
	def := definition(t, store, "pause", `[
		{"id": "pause", "type": "wait", "waitDuration": "1h", "next": "done"},
		{"id": "done", "type": "end"}
	]`)

	executor := newTestExecutor(store, &fakeLeads{}, &fakeMessenger{})
	exec, err := executor.Start(context.Background(), def, uuid.New())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The definition is deactivated while the execution sleeps.
	def.Active = false
	def.Graph.Active = false
	store.defs[def.ID] = def

	resumed, err := executor.Resume(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !resumed {
		t.Fatal("the claim still happens for deactivated definitions")
	}

	final := *store.execs[exec.ID]
	if final.Status != repository.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "deactivated") {
		t.Fatalf("error = %v, want deactivation notice", final.ErrorMessage)
	}
}

func TestConditionFollowsEdges(t *testing.T) {
	nodesJSON := `[
		{"id": "check", "type": "condition", "field": "source", "op": "equals", "value": "facebook",
		 "edges": {"true": "hot", "default": "done"}},
		{"id": "hot", "type": "action", "action": "apply_tag", "tag": "hot", "next": "done"},
		{"id": "done", "type": "end"}
	]`

	cases := []struct {
		name     string
		source   string
		wantTags int
	}{
		{"true edge", "facebook", 1},
		{"default edge", "organic", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			leadID := uuid.New()
			leads := &fakeLeads{profiles: map[uuid.UUID]LeadProfile{
				leadID: {LeadID: leadID, Source: tc.source},
			}}
			def := definition(t, store, "check", nodesJSON)

			exec, err := newTestExecutor(store, leads, &fakeMessenger{}).Start(context.Background(), def, leadID)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if exec.Status != repository.StatusCompleted {
				t.Fatalf("status = %s, want completed", exec.Status)
			}
			if len(leads.tags) != tc.wantTags {
				t.Fatalf("tags = %v, want %d entries", leads.tags, tc.wantTags)
			}
		})
	}
}

func TestActionFailureMarksExecutionFailed(t *testing.T) {
	store := newFakeStore()
	leadID := uuid.New()
	leads := &fakeLeads{profiles: map[uuid.UUID]LeadProfile{
		leadID: {LeadID: leadID, Phone: "+5511999990000"},
	}}
	messenger := &fakeMessenger{err: fmt.Errorf("gateway down: %s", strings.Repeat("x", 600))}

	def := definition(t, store, "greet", `[
		{"id": "greet", "type": "action", "action": "send_message", "message": "hi", "next": "done"},
		{"id": "done", "type": "end"}
	]`)

	exec, err := newTestExecutor(store, leads, messenger).Start(context.Background(), def, leadID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := *store.execs[exec.ID]
	if final.Status != repository.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.ErrorMessage == nil {
		t.Fatal("expected a persisted error message")
	}
	if len(*final.ErrorMessage) > 500 {
		t.Fatalf("error message is %d bytes, must be capped at 500", len(*final.ErrorMessage))
	}
	if leads.firstResponses != 0 {
		t.Fatal("a failed send must not mark the first response")
	}
}

func TestCyclicGraphHitsStepBound(t *testing.T) {
	store := newFakeStore()
	leadID := uuid.New()
	leads := &fakeLeads{profiles: map[uuid.UUID]LeadProfile{leadID: {LeadID: leadID}}}

	def := definition(t, store, "a", `[
		{"id": "a", "type": "action", "action": "apply_tag", "tag": "loop", "next": "b"},
		{"id": "b", "type": "action", "action": "apply_tag", "tag": "loop", "next": "a"}
	]`)

	executor := NewExecutor(store, leads, &fakeMessenger{}, nil, logger.New("development"), 10)
	exec, err := executor.Start(context.Background(), def, leadID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := *store.execs[exec.ID]
	if final.Status != repository.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "exceeded") {
		t.Fatalf("error = %v, want step bound notice", final.ErrorMessage)
	}
}
