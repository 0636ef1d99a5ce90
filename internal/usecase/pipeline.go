package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"MicrowireQC/internal/arbitration"
	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/ports"
	"MicrowireQC/internal/telemetry"
)

// ReportNormalizer is satisfied by *telemetry.Normalizer.
type ReportNormalizer interface {
	Normalize(raw []byte) (telemetry.Result, error)
}

// Arbitrator is satisfied by *arbitration.Arbiter.
type Arbitrator interface {
	Arbitrate(ctx context.Context, record domain.MeasurementRecord) arbitration.Outcome
}

// PipelineDeps wires all driven adapters into the use cases.
type PipelineDeps struct {
	Normalizer ReportNormalizer
	Records    ports.RecordRepository
	Arbiter    Arbitrator
	Notifier   ports.Notifier
	Locks      *BatchLocks
	Logger     *slog.Logger
}

// pipeline holds the evaluate-and-persist step shared by ingestion and re-evaluation.
type pipeline struct {
	normalizer ReportNormalizer
	records    ports.RecordRepository
	arbiter    Arbitrator
	notifier   ports.Notifier
	locks      *BatchLocks
	logger     *slog.Logger
	now        func() time.Time
}

func newPipeline(deps PipelineDeps, component string) pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewBatchLocks()
	}
	return pipeline{
		normalizer: deps.Normalizer,
		records:    deps.Records,
		arbiter:    deps.Arbiter,
		notifier:   deps.Notifier,
		locks:      locks,
		logger:     logger.With("component", component),
		now:        time.Now,
	}
}

// evaluate runs arbitration for record and persists the outcome. The caller holds the batch lock.
func (p *pipeline) evaluate(ctx context.Context, record domain.MeasurementRecord) (domain.MeasurementRecord, error) {
	if p.arbiter == nil {
		return record, fmt.Errorf("arbiter not configured")
	}

	previous := record.FinalVerdict
	eval := p.arbiter.Arbitrate(ctx, record).Evaluation(p.now())
	if err := p.records.SaveEvaluation(ctx, record.BatchNumber, eval); err != nil {
		return record, fmt.Errorf("save evaluation %s: %w", record.BatchNumber, err)
	}

	if record.Reviewed() {
		eval.FinalVerdict = record.FinalVerdict
		eval.FinalReason = record.FinalReason
	}
	record.Evaluation = eval

	p.logger.Info("record evaluated",
		"batch", record.BatchNumber,
		"scenario", record.Scenario(),
		"rule", eval.RuleVerdict,
		"model", eval.ModelVerdict,
		"confidence", eval.ModelConfidence,
		"final", eval.FinalVerdict,
		"reason", eval.FinalReason)

	if previous != domain.VerdictPendingReview && eval.FinalVerdict == domain.VerdictPendingReview {
		p.notifyPending(ctx, record)
	}
	return record, nil
}

func (p *pipeline) notifyPending(ctx context.Context, record domain.MeasurementRecord) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyPendingReview(ctx, record); err != nil {
		p.logger.Warn("pending review notification failed", "batch", record.BatchNumber, "error", err)
	}
}
