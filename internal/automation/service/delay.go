package service

import (
	"context"
	"time"

	"leadflow_backend/platform/logger"
)

// SweepReport summarizes one sweep pass. Processed counts every item the
// sweep looked at; Succeeded and Failed only the ones it acted on.
type SweepReport struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// DelayProcessor resumes waiting executions whose wait period elapsed.
type DelayProcessor struct {
	repo     Store
	executor *Executor
	log      *logger.Logger
	batch    int
	now      func() time.Time
}

func NewDelayProcessor(repo Store, executor *Executor, log *logger.Logger, batch int) *DelayProcessor {
	if batch <= 0 {
		batch = 50
	}
	return &DelayProcessor{
		repo:     repo,
		executor: executor,
		log:      log,
		batch:    batch,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (p *DelayProcessor) SetClock(now func() time.Time) {
	p.now = now
}

// Sweep claims and resumes due executions. Each execution is handled
// independently: one failure never blocks the rest of the batch. Executions
// another invocation claimed first are skipped and not counted as failures.
func (p *DelayProcessor) Sweep(ctx context.Context) (SweepReport, error) {
	due, err := p.repo.ListDue(ctx, p.now(), p.batch)
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, exec := range due {
		report.Processed++

		resumed, err := p.executor.Resume(ctx, exec.ID)
		if err != nil {
			report.Failed++
			p.log.Error("resume execution failed", "executionId", exec.ID, "error", err)
			continue
		}
		if resumed {
			report.Succeeded++
		}
	}

	p.log.SweepResult("automation.delay", report.Processed, report.Succeeded, report.Failed)
	return report, nil
}
