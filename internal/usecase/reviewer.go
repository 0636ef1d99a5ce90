package usecase

import (
	"context"
	"fmt"
	"strings"

	"MicrowireQC/internal/domain"
)

// Reviewer lets a human settle records the pipeline could not decide.
type Reviewer struct {
	pipeline
}

func NewReviewer(deps PipelineDeps) *Reviewer {
	return &Reviewer{pipeline: newPipeline(deps, "reviewer")}
}

// Review sets the final verdict of a PENDING_REVIEW or UNKNOWN record to PASS or FAIL.
// It succeeds at most once per record.
func (r *Reviewer) Review(ctx context.Context, batchNumber string, verdict domain.Verdict, reviewer, note string) (domain.MeasurementRecord, error) {
	if !verdict.Conclusive() {
		return domain.MeasurementRecord{}, fmt.Errorf("%w: got %q", domain.ErrInvalidReviewVerdict, verdict)
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return domain.MeasurementRecord{}, fmt.Errorf("reviewer is required")
	}

	unlock := r.locks.Lock(batchNumber)
	defer unlock()

	record, err := r.records.GetRecord(ctx, batchNumber)
	if err != nil {
		return domain.MeasurementRecord{}, fmt.Errorf("load record: %w", err)
	}
	if record.Reviewed() || record.FinalVerdict.Conclusive() {
		return domain.MeasurementRecord{}, fmt.Errorf("%w: %s is %s", domain.ErrReviewNotAllowed, batchNumber, record.FinalVerdict)
	}

	entry := domain.NewReviewNote(batchNumber, reviewer, verdict, record.FinalVerdict, strings.TrimSpace(note), r.now())
	if err := r.records.SaveReview(ctx, entry); err != nil {
		return domain.MeasurementRecord{}, fmt.Errorf("save review: %w", err)
	}

	r.logger.Info("record reviewed",
		"batch", batchNumber,
		"reviewer", reviewer,
		"previous", entry.Previous,
		"final", verdict)

	return r.records.GetRecord(ctx, batchNumber)
}
