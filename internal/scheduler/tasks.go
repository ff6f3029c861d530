// Package scheduler runs the periodic sweeps through asynq: pool
// redistribution, delayed automation resumption and stage automations.
package scheduler

// Sweep tick tasks carry no payload; each handler scans for its own work.
const (
	TaskPoolSweep            = "routing.pool.sweep"
	TaskAutomationDelaySweep = "automation.delay.sweep"
	TaskAutomationStageSweep = "automation.stage.sweep"
)
