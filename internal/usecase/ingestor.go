package usecase

import (
	"context"
	"fmt"

	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/telemetry"
)

// IngestResult reports what happened to one device report.
type IngestResult struct {
	Record domain.MeasurementRecord
	Issues []telemetry.Issue
	// Duplicate is set when the batch number was already stored and evaluated; the report is then dropped.
	Duplicate bool
}

// Ingestor turns raw device reports into evaluated measurement records.
type Ingestor struct {
	pipeline
}

func NewIngestor(deps PipelineDeps) *Ingestor {
	return &Ingestor{pipeline: newPipeline(deps, "ingestor")}
}

// Ingest normalizes, stores and evaluates one report. Errors are returned only
// when the report is rejected or the record cannot be stored.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte) (IngestResult, error) {
	if i.normalizer == nil || i.records == nil {
		return IngestResult{}, fmt.Errorf("ingestor not configured")
	}

	res, err := i.normalizer.Normalize(raw)
	if err != nil {
		return IngestResult{}, fmt.Errorf("normalize report: %w", err)
	}
	record := res.Record

	for _, issue := range res.Issues {
		i.logger.Warn("report field degraded",
			"batch", record.BatchNumber,
			"device", record.DeviceID,
			"field", issue.Field,
			"reason", issue.Reason)
	}

	unlock := i.locks.Lock(record.BatchNumber)
	defer unlock()

	created, err := i.records.CreateRecord(ctx, record)
	if err != nil {
		return IngestResult{}, fmt.Errorf("create record %s: %w", record.BatchNumber, err)
	}
	if !created {
		stored, err := i.records.GetRecord(ctx, record.BatchNumber)
		if err != nil {
			return IngestResult{}, fmt.Errorf("load stored record %s: %w", record.BatchNumber, err)
		}
		if stored.Reviewed() || !stored.EvaluatedAt.IsZero() {
			i.logger.Info("duplicate batch ignored", "batch", record.BatchNumber, "device", record.DeviceID)
			return IngestResult{Record: stored, Issues: res.Issues, Duplicate: true}, nil
		}
		// an earlier delivery stored the record but never saved its evaluation
		i.logger.Info("resuming evaluation of stored batch", "batch", record.BatchNumber)
		record = stored
	}

	evaluated, err := i.evaluate(ctx, record)
	if err != nil {
		i.logger.Error("evaluation not persisted", "batch", record.BatchNumber, "error", err)
		return IngestResult{Record: record, Issues: res.Issues}, err
	}

	return IngestResult{Record: evaluated, Issues: res.Issues}, nil
}
