package usecase

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// ReevaluationResult counts records that were re-evaluated and lists the ones skipped.
type ReevaluationResult struct {
	Processed int
	Skipped   []string
}

// Reevaluator re-runs rules, prediction and arbitration for a whole scenario.
type Reevaluator struct {
	pipeline
	concurrency int
}

func NewReevaluator(deps PipelineDeps, concurrency int) *Reevaluator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Reevaluator{pipeline: newPipeline(deps, "reevaluator"), concurrency: concurrency}
}

// Reevaluate processes every record of the scenario. Per-record failures are
// logged and reported in Skipped; the error is reserved for the listing itself
// and for cancellation.
func (r *Reevaluator) Reevaluate(ctx context.Context, scenarioCode string) (ReevaluationResult, error) {
	if r.records == nil {
		return ReevaluationResult{}, fmt.Errorf("reevaluator not configured")
	}

	records, err := r.records.ListByScenario(ctx, scenarioCode)
	if err != nil {
		return ReevaluationResult{}, fmt.Errorf("list scenario %s: %w", scenarioCode, err)
	}

	var (
		mu     sync.Mutex
		result ReevaluationResult
		g      errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for _, rec := range records {
		g.Go(func() error {
			err := r.reevaluateOne(ctx, rec.BatchNumber)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Error("re-evaluation skipped", "batch", rec.BatchNumber, "error", err)
				result.Skipped = append(result.Skipped, rec.BatchNumber)
				return nil
			}
			result.Processed++
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(result.Skipped)
	r.logger.Info("scenario re-evaluated",
		"scenario", scenarioCode,
		"processed", result.Processed,
		"skipped", len(result.Skipped))

	return result, ctx.Err()
}

func (r *Reevaluator) reevaluateOne(ctx context.Context, batchNumber string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("re-evaluation panicked: %v", rec)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := r.locks.Lock(batchNumber)
	defer unlock()

	// reload under the lock so a concurrent review is not overwritten
	record, err := r.records.GetRecord(ctx, batchNumber)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	_, err = r.evaluate(ctx, record)
	return err
}
