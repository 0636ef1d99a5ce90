package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MicrowireQC/internal/domain"
)

func TestReviewIsTerminal(t *testing.T) {
	t.Parallel()

	repo := newMemRepository()
	pending := storedRecord(batchThin, "01", "9")
	pending.FinalVerdict = domain.VerdictPendingReview
	passed := storedRecord(batchInRange, "01", "15")
	passed.FinalVerdict = domain.VerdictPass
	for _, rec := range []domain.MeasurementRecord{pending, passed} {
		_, err := repo.CreateRecord(context.Background(), rec)
		require.NoError(t, err)
	}

	reviewer := NewReviewer(PipelineDeps{Records: repo})

	rec, err := reviewer.Review(context.Background(), batchThin, domain.VerdictFail, " inspector ", " below gauge ")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictFail, rec.FinalVerdict)
	assert.True(t, rec.Reviewed())
	require.Len(t, rec.ReviewNotes, 1)
	assert.Equal(t, "inspector", rec.ReviewNotes[0].Reviewer)
	assert.Equal(t, "below gauge", rec.ReviewNotes[0].Note)
	assert.Equal(t, domain.VerdictPendingReview, rec.ReviewNotes[0].Previous)

	_, err = reviewer.Review(context.Background(), batchThin, domain.VerdictPass, "inspector", "second thoughts")
	assert.ErrorIs(t, err, domain.ErrReviewNotAllowed)
	assert.Len(t, repo.get(t, batchThin).ReviewNotes, 1)

	_, err = reviewer.Review(context.Background(), batchInRange, domain.VerdictFail, "inspector", "")
	assert.ErrorIs(t, err, domain.ErrReviewNotAllowed)
}

func TestReviewRejectsBadInput(t *testing.T) {
	t.Parallel()

	reviewer := NewReviewer(PipelineDeps{Records: newMemRepository()})

	_, err := reviewer.Review(context.Background(), batchThin, domain.VerdictPendingReview, "inspector", "")
	assert.ErrorIs(t, err, domain.ErrInvalidReviewVerdict)

	_, err = reviewer.Review(context.Background(), batchThin, domain.VerdictPass, "  ", "")
	assert.Error(t, err)

	_, err = reviewer.Review(context.Background(), "missing", domain.VerdictPass, "inspector", "")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}
