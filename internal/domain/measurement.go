package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Verdict is the shared vocabulary of the rule engine, the predictor and arbitration.
type Verdict string

const (
	VerdictPass          Verdict = "PASS"
	VerdictFail          Verdict = "FAIL"
	VerdictPendingReview Verdict = "PENDING_REVIEW"
	VerdictUnknown       Verdict = "UNKNOWN"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictFail, VerdictPendingReview, VerdictUnknown:
		return true
	default:
		return false
	}
}

// Conclusive reports whether v is PASS or FAIL.
func (v Verdict) Conclusive() bool {
	return v == VerdictPass || v == VerdictFail
}

// Metric names a measured quantity. The order of Metrics is the order violations are reported in.
type Metric string

const (
	MetricDiameter      Metric = "diameter"
	MetricConductivity  Metric = "conductivity"
	MetricExtensibility Metric = "extensibility"
	MetricWeight        Metric = "weight"
)

// Metrics lists every measured quantity in reporting order.
var Metrics = []Metric{MetricDiameter, MetricConductivity, MetricExtensibility, MetricWeight}

// Measurements holds the four sensor values of a batch. A value that was not
// reported or could not be parsed is left invalid.
type Measurements struct {
	Diameter      decimal.NullDecimal
	Conductivity  decimal.NullDecimal // reported by devices under the "Resistance" property
	Extensibility decimal.NullDecimal
	Weight        decimal.NullDecimal
}

// Value returns the measurement for a metric.
func (m Measurements) Value(metric Metric) decimal.NullDecimal {
	switch metric {
	case MetricDiameter:
		return m.Diameter
	case MetricConductivity:
		return m.Conductivity
	case MetricExtensibility:
		return m.Extensibility
	case MetricWeight:
		return m.Weight
	default:
		return decimal.NullDecimal{}
	}
}

// Provenance is decoded from the device's SourceOrigin property.
type Provenance struct {
	Manufacturer      *string
	ResponsiblePerson *string
	ProcessType       *string
	ProductionMachine *string
	ContactEmail      *string
}

// Evaluation is overwritten by each evaluation pass.
type Evaluation struct {
	RuleVerdict     Verdict
	RuleMessage     string
	ModelVerdict    Verdict
	ModelConfidence float64
	FinalVerdict    Verdict
	FinalReason     string
	EvaluatedAt     time.Time
}

// UnknownEvaluation is the evaluation state of a freshly ingested record.
func UnknownEvaluation() Evaluation {
	return Evaluation{
		RuleVerdict:  VerdictUnknown,
		ModelVerdict: VerdictUnknown,
		FinalVerdict: VerdictUnknown,
	}
}

// MeasurementRecord is one produced batch with its telemetry and verdicts.
type MeasurementRecord struct {
	BatchNumber  string
	DeviceID     string
	ScenarioCode *string
	DeviceCode   *string
	Measurements
	Provenance
	EventTime time.Time
	Evaluation

	ReviewedAt  *time.Time
	ReviewNotes []ReviewNote
}

// Reviewed reports whether a human has already settled the final verdict.
func (r MeasurementRecord) Reviewed() bool {
	return r.ReviewedAt != nil
}

// Scenario returns the scenario code or an empty string.
func (r MeasurementRecord) Scenario() string {
	if r.ScenarioCode == nil {
		return ""
	}
	return *r.ScenarioCode
}

// Prediction is a successful answer from the statistical predictor.
type Prediction struct {
	Verdict    Verdict
	Label      string
	Confidence float64
}
