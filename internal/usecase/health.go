package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"MicrowireQC/internal/ports"
)

const probeTimeout = 5 * time.Second

// HealthMonitor tracks whether the predictor answered its last health probe.
// The flag is informational; arbitration always attempts a prediction.
type HealthMonitor struct {
	prober    ports.HealthProber
	logger    *slog.Logger
	available atomic.Bool
	probed    atomic.Bool
}

func NewHealthMonitor(prober ports.HealthProber, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HealthMonitor{prober: prober, logger: logger.With("component", "health")}
}

// Available returns the result of the last probe; false before the first one.
func (m *HealthMonitor) Available() bool {
	return m.available.Load()
}

// Probe checks the predictor once and logs state changes.
func (m *HealthMonitor) Probe(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := m.prober.Health(ctx)
	now := err == nil
	was := m.available.Swap(now)
	first := !m.probed.Swap(true)

	switch {
	case !now && (was || first):
		m.logger.Warn("model unavailable", "error", err)
	case now && (!was || first):
		m.logger.Info("model available")
	default:
		m.logger.Debug("model probed", "available", now)
	}
	return err
}
