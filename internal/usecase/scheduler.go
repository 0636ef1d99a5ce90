package usecase

import (
	"context"
	"time"

	"MicrowireQC/internal/ports"
)

// Scheduler wires the ticker driver with the health monitor.
type Scheduler struct {
	driver  ports.Scheduler
	monitor *HealthMonitor
}

// NewScheduler returns a helper to start/stop recurring probes.
func NewScheduler(driver ports.Scheduler, monitor *HealthMonitor) *Scheduler {
	return &Scheduler{driver: driver, monitor: monitor}
}

// Start registers the probe with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.monitor == nil {
		return nil
	}

	job := func(time.Time) {
		_ = s.monitor.Probe(ctx)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
