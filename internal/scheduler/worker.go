package scheduler

import (
	"context"
	"fmt"

	automationsvc "leadflow_backend/internal/automation/service"
	routingsvc "leadflow_backend/internal/routing/service"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes sweep tick tasks and runs the corresponding sweep. Each
// sweep reports per-item outcomes; the worker only logs the totals.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	routing *routingsvc.Service
	delay   *automationsvc.DelayProcessor
	stage   *automationsvc.StageSweeper
	log     *logger.Logger
}

func NewWorker(
	cfg config.SchedulerConfig,
	routing *routingsvc.Service,
	delay *automationsvc.DelayProcessor,
	stage *automationsvc.StageSweeper,
	log *logger.Logger,
) (*Worker, error) {
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

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		routing: routing,
		delay:   delay,
		stage:   stage,
		log:     log,
	}

	mux.HandleFunc(TaskPoolSweep, w.handlePoolSweep)
	mux.HandleFunc(TaskAutomationDelaySweep, w.handleDelaySweep)
	mux.HandleFunc(TaskAutomationStageSweep, w.handleStageSweep)

	return w, nil
}

func (w *Worker) handlePoolSweep(ctx context.Context, _ *asynq.Task) error {
	report, err := w.routing.SweepPool(ctx)
	if err != nil {
		return err
	}
	w.log.SweepResult("routing.pool", report.Processed, report.Succeeded, report.Failed)
	return nil
}

func (w *Worker) handleDelaySweep(ctx context.Context, _ *asynq.Task) error {
	_, err := w.delay.Sweep(ctx)
	return err
}

func (w *Worker) handleStageSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := w.stage.Sweep(ctx)
	return err
}

// Run blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
