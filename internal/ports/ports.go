package ports

import (
	"context"
	"time"

	"MicrowireQC/internal/domain"
)

// RecordRepository persists measurement records and their evaluations.
type RecordRepository interface {
	// CreateRecord inserts a new record; created is false when the batch number already exists.
	CreateRecord(ctx context.Context, record domain.MeasurementRecord) (created bool, err error)
	GetRecord(ctx context.Context, batchNumber string) (domain.MeasurementRecord, error)
	ListByScenario(ctx context.Context, scenarioCode string) ([]domain.MeasurementRecord, error)
	// SaveEvaluation overwrites evaluation fields. The final verdict of a reviewed record is kept.
	SaveEvaluation(ctx context.Context, batchNumber string, eval domain.Evaluation) error
	// SaveReview settles the final verdict and appends the note atomically.
	SaveReview(ctx context.Context, note domain.ReviewNote) error
}

// StandardRepository reads scenario thresholds owned by another service.
type StandardRepository interface {
	GetStandard(ctx context.Context, scenarioCode string) (domain.ScenarioStandard, error)
}

// Predictor calls the external statistical model.
type Predictor interface {
	Predict(ctx context.Context, record domain.MeasurementRecord) (domain.Prediction, error)
}

// HealthProber reports reachability of the predictor service.
type HealthProber interface {
	Health(ctx context.Context) error
}

// Notifier alerts operators about records waiting for human review.
type Notifier interface {
	NotifyPendingReview(ctx context.Context, record domain.MeasurementRecord) error
}

// Scheduler controls when periodic jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
