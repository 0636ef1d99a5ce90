package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReviewNote is an append-only audit entry written when a human settles a verdict.
type ReviewNote struct {
	ID          uuid.UUID
	BatchNumber string
	Reviewer    string
	Verdict     Verdict
	Previous    Verdict
	Note        string
	CreatedAt   time.Time
}

// NewReviewNote stamps a note with a fresh id.
func NewReviewNote(batchNumber, reviewer string, verdict, previous Verdict, note string, at time.Time) ReviewNote {
	return ReviewNote{
		ID:          uuid.New(),
		BatchNumber: batchNumber,
		Reviewer:    reviewer,
		Verdict:     verdict,
		Previous:    previous,
		Note:        note,
		CreatedAt:   at,
	}
}
