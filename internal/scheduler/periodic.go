package scheduler

import (
	"context"
	"fmt"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Periodic enqueues the sweep tick tasks on a fixed cadence. It only
// produces ticks; the Worker consumes them, so multiple worker replicas
// share one tick stream instead of each running its own timers.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

// periodicEntries is the tick schedule. Every sweep runs on the same
// one-minute cadence; each handler decides whether there is work.
var periodicEntries = []struct {
	cadence string
	task    string
}{
	{"@every 1m", TaskPoolSweep},
	{"@every 1m", TaskAutomationDelaySweep},
	{"@every 1m", TaskAutomationStageSweep},
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})

	for _, entry := range periodicEntries {
		if _, err := scheduler.Register(entry.cadence, asynq.NewTask(entry.task, nil), asynq.Queue(queue)); err != nil {
			return nil, fmt.Errorf("register %s: %w", entry.task, err)
		}
	}

	return &Periodic{scheduler: scheduler, log: log}, nil
}

// Run blocks until the context is cancelled.
func (p *Periodic) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.scheduler.Shutdown()
	}()

	if err := p.scheduler.Run(); err != nil {
		p.log.Error("periodic scheduler stopped", "error", err)
	}
}
