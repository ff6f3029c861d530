package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadflow_backend/internal/automation/repository"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

const waitThenTagNodes = `[
	{"id": "pause", "type": "wait", "waitDuration": "1h", "next": "tag"},
	{"id": "tag", "type": "action", "action": "apply_tag", "tag": "resumed", "next": "done"},
	{"id": "done", "type": "end"}
]`

func startWaiting(t *testing.T, store *fakeStore, executor *Executor, leads *fakeLeads) *repository.Execution {
	t.Helper()
	leadID := uuid.New()
	leads.profiles[leadID] = LeadProfile{LeadID: leadID}
	def := definition(t, store, "pause", waitThenTagNodes)

	exec, err := executor.Start(context.Background(), def, leadID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec.Status != repository.StatusWaiting {
		t.Fatalf("status = %s, want waiting", exec.Status)
	}
	return exec
}

func TestSweepResumesDueExecutions(t *testing.T) {
	store := newFakeStore()
	leads := &fakeLeads{profiles: make(map[uuid.UUID]LeadProfile)}
	executor := newTestExecutor(store, leads, &fakeMessenger{})

	first := startWaiting(t, store, executor, leads)
	second := startWaiting(t, store, executor, leads)

	processor := NewDelayProcessor(store, executor, logger.New("development"), 50)
	processor.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	report, err := processor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Processed != 2 || report.Succeeded != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 2 processed and 2 succeeded", report)
	}

	for _, exec := range []*repository.Execution{first, second} {
		final := *store.execs[exec.ID]
		if final.Status != repository.StatusCompleted {
			t.Fatalf("execution %s = %s, want completed", exec.ID, final.Status)
		}
	}
	if len(leads.tags) != 2 {
		t.Fatalf("tags = %v, want both post-wait actions applied", leads.tags)
	}
}

func TestSweepIgnoresNotYetDueExecutions(t *testing.T) {
	store := newFakeStore()
	leads := &fakeLeads{profiles: make(map[uuid.UUID]LeadProfile)}
	executor := newTestExecutor(store, leads, &fakeMessenger{})

	exec := startWaiting(t, store, executor, leads)

	processor := NewDelayProcessor(store, executor, logger.New("development"), 50)

	report, err := processor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Processed != 0 {
		t.Fatalf("report = %+v, want an empty sweep", report)
	}
	if store.execs[exec.ID].Status != repository.StatusWaiting {
		t.Fatal("a not-yet-due execution must keep waiting")
	}
}

// faultyStore injects a storage error into the mid-run write path.
type faultyStore struct {
	*fakeStore
	updateNodeErr error
}

func (f *faultyStore) UpdateCurrentNode(ctx context.Context, id uuid.UUID, nodeID string) error {
	if f.updateNodeErr != nil {
		return f.updateNodeErr
	}
	return f.fakeStore.UpdateCurrentNode(ctx, id, nodeID)
}

func TestSweepMarksAbortedResumeFailed(t *testing.T) {
	inner := newFakeStore()
	store := &faultyStore{fakeStore: inner}
	leads := &fakeLeads{profiles: make(map[uuid.UUID]LeadProfile)}
	executor := NewExecutor(store, leads, &fakeMessenger{}, nil, logger.New("development"), 100)

	exec := startWaiting(t, inner, executor, leads)

	// Storage starts failing after the claim succeeds.
	store.updateNodeErr = errors.New("connection reset")

	processor := NewDelayProcessor(store, executor, logger.New("development"), 50)
	processor.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	report, err := processor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Processed != 1 || report.Failed != 1 || report.Succeeded != 0 {
		t.Fatalf("report = %+v, want one failure", report)
	}

	// The claimed execution must not stay in running with no due timestamp.
	final := *inner.execs[exec.ID]
	if final.Status != repository.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "resume aborted") {
		t.Fatalf("error = %v, want the resume abort reason", final.ErrorMessage)
	}
}

func TestSweepSkipsExecutionsClaimedElsewhere(t *testing.T) {
	store := newFakeStore()
	leads := &fakeLeads{profiles: make(map[uuid.UUID]LeadProfile)}
	executor := newTestExecutor(store, leads, &fakeMessenger{})

	exec := startWaiting(t, store, executor, leads)

	// Another sweep claimed the execution after ListDue snapshotted it.
	store.execs[exec.ID].Status = repository.StatusRunning
	store.execs[exec.ID].NextExecutionAt = nil

	processor := NewDelayProcessor(store, executor, logger.New("development"), 50)
	processor.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	// ListDue sees nothing waiting, so the sweep is empty rather than failed.
	report, err := processor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Failed != 0 {
		t.Fatalf("report = %+v, claimed-elsewhere executions must not count as failures", report)
	}
}
