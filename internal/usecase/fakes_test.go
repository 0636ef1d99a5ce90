package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/ports"
)

type memRepository struct {
	mu      sync.Mutex
	records map[string]domain.MeasurementRecord
	saveErr map[string]error
}

var _ ports.RecordRepository = (*memRepository)(nil)

func newMemRepository() *memRepository {
	return &memRepository{
		records: make(map[string]domain.MeasurementRecord),
		saveErr: make(map[string]error),
	}
}

func (m *memRepository) CreateRecord(_ context.Context, record domain.MeasurementRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.BatchNumber]; ok {
		return false, nil
	}
	m.records[record.BatchNumber] = record
	return true, nil
}

func (m *memRepository) GetRecord(_ context.Context, batchNumber string) (domain.MeasurementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[batchNumber]
	if !ok {
		return domain.MeasurementRecord{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, batchNumber)
	}
	rec.ReviewNotes = slices.Clone(rec.ReviewNotes)
	return rec, nil
}

func (m *memRepository) ListByScenario(_ context.Context, scenarioCode string) ([]domain.MeasurementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MeasurementRecord
	for _, rec := range m.records {
		if rec.Scenario() == scenarioCode {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b domain.MeasurementRecord) int {
		switch {
		case a.BatchNumber < b.BatchNumber:
			return -1
		case a.BatchNumber > b.BatchNumber:
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *memRepository) SaveEvaluation(_ context.Context, batchNumber string, eval domain.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErr[batchNumber]; err != nil {
		return err
	}
	rec, ok := m.records[batchNumber]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if rec.Reviewed() {
		eval.FinalVerdict = rec.FinalVerdict
		eval.FinalReason = rec.FinalReason
	}
	rec.Evaluation = eval
	m.records[batchNumber] = rec
	return nil
}

func (m *memRepository) SaveReview(_ context.Context, note domain.ReviewNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[note.BatchNumber]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if rec.Reviewed() || rec.FinalVerdict.Conclusive() {
		return domain.ErrReviewNotAllowed
	}
	at := note.CreatedAt
	rec.FinalVerdict = note.Verdict
	rec.FinalReason = "human_review"
	rec.ReviewedAt = &at
	rec.ReviewNotes = append(slices.Clone(rec.ReviewNotes), note)
	m.records[note.BatchNumber] = rec
	return nil
}

func (m *memRepository) get(t *testing.T, batchNumber string) domain.MeasurementRecord {
	t.Helper()
	rec, err := m.GetRecord(context.Background(), batchNumber)
	if err != nil {
		t.Fatalf("get %s: %v", batchNumber, err)
	}
	return rec
}

type memStandards map[string]domain.ScenarioStandard

func (m memStandards) GetStandard(_ context.Context, code string) (domain.ScenarioStandard, error) {
	std, ok := m[code]
	if !ok {
		return domain.ScenarioStandard{}, domain.ErrStandardNotFound
	}
	return std, nil
}

type scriptedPredictor struct {
	calls   atomic.Int32
	predict func(domain.MeasurementRecord) (domain.Prediction, error)
}

func (s *scriptedPredictor) Predict(_ context.Context, rec domain.MeasurementRecord) (domain.Prediction, error) {
	s.calls.Add(1)
	return s.predict(rec)
}

func confident(domain.MeasurementRecord) (domain.Prediction, error) {
	return domain.Prediction{Verdict: domain.VerdictPass, Label: "合格", Confidence: 0.92}, nil
}

func unreachable(domain.MeasurementRecord) (domain.Prediction, error) {
	return domain.Prediction{}, errors.New("dial tcp: connection refused")
}

type recordingNotifier struct {
	mu      sync.Mutex
	batches []string
	err     error
}

func (r *recordingNotifier) NotifyPendingReview(_ context.Context, rec domain.MeasurementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, rec.BatchNumber)
	return r.err
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.batches)
}

func num(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func band(lo, hi string) domain.Band {
	var b domain.Band
	if lo != "" {
		b.Min = num(lo)
	}
	if hi != "" {
		b.Max = num(hi)
	}
	return b
}

func copperStandards() memStandards {
	return memStandards{
		"01": {
			ScenarioCode:  "01",
			Diameter:      band("10", "20"),
			Conductivity:  band("50", "60"),
			Extensibility: band("10", ""),
		},
	}
}

func storedRecord(batchNumber, scenario, diameter string) domain.MeasurementRecord {
	rec := domain.MeasurementRecord{
		BatchNumber:  batchNumber,
		DeviceID:     "dev-001",
		ScenarioCode: &scenario,
		Evaluation:   domain.UnknownEvaluation(),
	}
	rec.Diameter = num(diameter)
	rec.Conductivity = num("55")
	rec.Extensibility = num("12")
	return rec
}
