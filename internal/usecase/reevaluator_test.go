package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MicrowireQC/internal/arbitration"
	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/rules"
)

const (
	batchInRange  = "Cu0120250629010010001"
	batchThin     = "Cu0120250629010010002"
	batchUnsure   = "Cu0120250629010010003"
	batchOtherUse = "Cu0220250629010010001"
)

func byBatch(rec domain.MeasurementRecord) (domain.Prediction, error) {
	if rec.BatchNumber == batchUnsure {
		return domain.Prediction{Verdict: domain.VerdictPass, Label: "合格", Confidence: 0.5}, nil
	}
	return confident(rec)
}

func seededReevaluator(t *testing.T, predict func(domain.MeasurementRecord) (domain.Prediction, error)) (*Reevaluator, *memRepository, *recordingNotifier) {
	t.Helper()

	repo := newMemRepository()
	for _, rec := range []domain.MeasurementRecord{
		storedRecord(batchInRange, "01", "15"),
		storedRecord(batchThin, "01", "9"),
		storedRecord(batchUnsure, "01", "15"),
		storedRecord(batchOtherUse, "02", "15"),
	} {
		created, err := repo.CreateRecord(context.Background(), rec)
		require.NoError(t, err)
		require.True(t, created)
	}

	notifier := &recordingNotifier{}
	arbiter := arbitration.NewArbiter(rules.NewEngine(copperStandards(), nil), &scriptedPredictor{predict: predict}, 0.8, nil)
	r := NewReevaluator(PipelineDeps{Records: repo, Arbiter: arbiter, Notifier: notifier}, 2)
	return r, repo, notifier
}

func finalVerdicts(t *testing.T, repo *memRepository, batches ...string) map[string]domain.Verdict {
	t.Helper()
	out := make(map[string]domain.Verdict, len(batches))
	for _, b := range batches {
		out[b] = repo.get(t, b).FinalVerdict
	}
	return out
}

func TestReevaluateIsIdempotent(t *testing.T) {
	t.Parallel()
	r, repo, notifier := seededReevaluator(t, byBatch)

	first, err := r.Reevaluate(context.Background(), "01")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Processed)
	assert.Empty(t, first.Skipped)

	afterFirst := finalVerdicts(t, repo, batchInRange, batchThin, batchUnsure)
	assert.Equal(t, map[string]domain.Verdict{
		batchInRange: domain.VerdictPass,
		batchThin:    domain.VerdictPendingReview,
		batchUnsure:  domain.VerdictPendingReview,
	}, afterFirst)
	assert.ElementsMatch(t, []string{batchThin, batchUnsure}, notifier.sent())

	second, err := r.Reevaluate(context.Background(), "01")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, afterFirst, finalVerdicts(t, repo, batchInRange, batchThin, batchUnsure))
	assert.Len(t, notifier.sent(), 2)

	assert.Equal(t, domain.VerdictUnknown, repo.get(t, batchOtherUse).FinalVerdict)
}

func TestReevaluateSkipsFailedRecords(t *testing.T) {
	t.Parallel()
	r, repo, _ := seededReevaluator(t, byBatch)
	repo.saveErr[batchThin] = errors.New("connection reset by peer")

	res, err := r.Reevaluate(context.Background(), "01")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, []string{batchThin}, res.Skipped)
	assert.Equal(t, domain.VerdictUnknown, repo.get(t, batchThin).FinalVerdict)
}

func TestReevaluateUnknownScenario(t *testing.T) {
	t.Parallel()
	r, _, _ := seededReevaluator(t, byBatch)

	res, err := r.Reevaluate(context.Background(), "99")
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Empty(t, res.Skipped)
}

func TestReevaluateKeepsReviewedVerdict(t *testing.T) {
	t.Parallel()
	r, repo, _ := seededReevaluator(t, unreachable)

	_, err := r.Reevaluate(context.Background(), "01")
	require.NoError(t, err)
	require.Equal(t, domain.VerdictPendingReview, repo.get(t, batchThin).FinalVerdict)

	reviewer := NewReviewer(PipelineDeps{Records: repo})
	_, err = reviewer.Review(context.Background(), batchThin, domain.VerdictFail, "inspector", "below gauge")
	require.NoError(t, err)

	r.arbiter = arbitration.NewArbiter(rules.NewEngine(copperStandards(), nil), &scriptedPredictor{predict: confident}, 0.8, nil)
	res, err := r.Reevaluate(context.Background(), "01")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)

	rec := repo.get(t, batchThin)
	assert.Equal(t, domain.VerdictPass, rec.ModelVerdict)
	assert.Equal(t, domain.VerdictFail, rec.FinalVerdict)
	assert.Equal(t, "human_review", rec.FinalReason)
}

func TestReevaluateCancelled(t *testing.T) {
	t.Parallel()
	r, _, _ := seededReevaluator(t, byBatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Reevaluate(ctx, "01")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Processed)
	assert.Equal(t, []string{batchInRange, batchThin, batchUnsure}, res.Skipped)
}
