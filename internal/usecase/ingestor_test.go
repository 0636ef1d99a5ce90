package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MicrowireQC/internal/arbitration"
	"MicrowireQC/internal/codec"
	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/provenance"
	"MicrowireQC/internal/rules"
	"MicrowireQC/internal/telemetry"
)

type ingestFixture struct {
	ingestor  *Ingestor
	repo      *memRepository
	predictor *scriptedPredictor
	notifier  *recordingNotifier
}

func newIngestFixture(t *testing.T, predict func(domain.MeasurementRecord) (domain.Prediction, error)) ingestFixture {
	t.Helper()

	c, err := codec.New(codec.DefaultEncoding)
	require.NoError(t, err)
	normalizer, err := telemetry.NewNormalizer(provenance.NewDecoder(c), time.FixedZone("CST", 8*60*60))
	require.NoError(t, err)

	f := ingestFixture{
		repo:      newMemRepository(),
		predictor: &scriptedPredictor{predict: predict},
		notifier:  &recordingNotifier{},
	}
	arbiter := arbitration.NewArbiter(rules.NewEngine(copperStandards(), nil), f.predictor, 0.8, nil)
	f.ingestor = NewIngestor(PipelineDeps{
		Normalizer: normalizer,
		Records:    f.repo,
		Arbiter:    arbiter,
		Notifier:   f.notifier,
	})
	return f
}

func deviceReport(t *testing.T, deviceID string, props map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"event_time": "20250629T010203Z",
		"notify_data": map[string]any{
			"header": map[string]any{"device_id": deviceID},
			"body": map[string]any{
				"services": []any{map[string]any{"properties": props}},
			},
		},
	})
	require.NoError(t, err)
	return raw
}

func copperReport(t *testing.T) []byte {
	t.Helper()
	c, err := codec.New(codec.DefaultEncoding)
	require.NoError(t, err)

	origin := ""
	for _, field := range []string{"华东线材厂", "张三", "拉丝", "M-07"} {
		h, err := c.Encode(field)
		require.NoError(t, err)
		origin += h + "_"
	}

	return deviceReport(t, "dev-001", map[string]any{
		"Batch":         "Cu0120250629010010001",
		"Diameter":      "15.0",
		"Resistance":    55,
		"Extensibility": "12.0",
		"SourceOrigin":  origin + "qa_team@example.com",
	})
}

func TestIngestEndToEndPass(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, confident)

	res, err := f.ingestor.Ingest(context.Background(), copperReport(t))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Empty(t, res.Issues)

	assert.Equal(t, domain.VerdictPass, res.Record.RuleVerdict)
	assert.Equal(t, domain.VerdictPass, res.Record.ModelVerdict)
	assert.InDelta(t, 0.92, res.Record.ModelConfidence, 1e-9)
	assert.Equal(t, domain.VerdictPass, res.Record.FinalVerdict)

	stored := f.repo.get(t, "Cu0120250629010010001")
	assert.Equal(t, "01", stored.Scenario())
	require.NotNil(t, stored.Manufacturer)
	assert.Equal(t, "华东线材厂", *stored.Manufacturer)
	require.NotNil(t, stored.ContactEmail)
	assert.Equal(t, "qa_team@example.com", *stored.ContactEmail)
	assert.Equal(t, domain.VerdictPass, stored.FinalVerdict)
	assert.Equal(t, string(arbitration.ReasonAgreement), stored.FinalReason)
	assert.False(t, stored.EvaluatedAt.IsZero())
	assert.Empty(t, f.notifier.sent())
}

func TestIngestDuplicateIsDropped(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, confident)

	_, err := f.ingestor.Ingest(context.Background(), copperReport(t))
	require.NoError(t, err)

	res, err := f.ingestor.Ingest(context.Background(), copperReport(t))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int32(1), f.predictor.calls.Load())
}

func TestIngestPredictorDownDefersToReview(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, unreachable)
	f.notifier.err = errors.New("telegram error: 502 Bad Gateway")

	res, err := f.ingestor.Ingest(context.Background(), copperReport(t))
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictPass, res.Record.RuleVerdict)
	assert.Equal(t, domain.VerdictUnknown, res.Record.ModelVerdict)
	assert.Zero(t, res.Record.ModelConfidence)
	assert.Equal(t, domain.VerdictPendingReview, res.Record.FinalVerdict)
	assert.Equal(t, string(arbitration.ReasonModelUnavailable), res.Record.FinalReason)
	assert.Equal(t, []string{"Cu0120250629010010001"}, f.notifier.sent())
}

func TestIngestRejectsReportWithoutIdentity(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, confident)

	_, err := f.ingestor.Ingest(context.Background(), deviceReport(t, "", map[string]any{"Batch": "Cu0120250629010010001"}))
	assert.ErrorIs(t, err, domain.ErrMissingDeviceID)

	_, err = f.ingestor.Ingest(context.Background(), deviceReport(t, "dev-001", map[string]any{"Diameter": "15"}))
	assert.ErrorIs(t, err, domain.ErrMissingBatchNumber)

	assert.Empty(t, f.repo.records)
	assert.Zero(t, f.predictor.calls.Load())
}

func TestIngestDegradedReportIsStillEvaluated(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, confident)

	res, err := f.ingestor.Ingest(context.Background(), deviceReport(t, "dev-002", map[string]any{
		"Batch":      "Cu0120250629010010009",
		"Diameter":   "n/a",
		"Resistance": "61",
	}))
	require.NoError(t, err)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, "Diameter", res.Issues[0].Field)

	stored := f.repo.get(t, "Cu0120250629010010009")
	assert.False(t, stored.Diameter.Valid)
	assert.Equal(t, domain.VerdictFail, stored.RuleVerdict)
	assert.Equal(t, domain.VerdictPendingReview, stored.FinalVerdict)
	assert.Equal(t, string(arbitration.ReasonDisagreement), stored.FinalReason)
}

func TestIngestRedeliveryResumesUnsavedEvaluation(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, confident)
	f.repo.saveErr["Cu0120250629010010001"] = errors.New("connection reset by peer")

	_, err := f.ingestor.Ingest(context.Background(), copperReport(t))
	require.Error(t, err)
	assert.Equal(t, domain.VerdictUnknown, f.repo.get(t, "Cu0120250629010010001").FinalVerdict)

	delete(f.repo.saveErr, "Cu0120250629010010001")
	res, err := f.ingestor.Ingest(context.Background(), copperReport(t))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.VerdictPass, res.Record.FinalVerdict)

	stored := f.repo.get(t, "Cu0120250629010010001")
	assert.Equal(t, domain.VerdictPass, stored.FinalVerdict)
	assert.False(t, stored.EvaluatedAt.IsZero())

	res, err = f.ingestor.Ingest(context.Background(), copperReport(t))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int32(2), f.predictor.calls.Load())
}
