// Package rules checks measurement records against scenario thresholds.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/ports"
)

const (
	MessageScenarioUnresolved = "scenario unresolved"
	MessageWithinLimits       = "all metrics within limits"
)

// Result is the rule verdict with its explanation.
type Result struct {
	Verdict domain.Verdict
	Message string
	// Violations lists failing metrics in reporting order.
	Violations []domain.Metric
}

// Engine evaluates records against standards loaded from a repository.
type Engine struct {
	standards ports.StandardRepository
	logger    *slog.Logger
}

// NewEngine wires the standards lookup.
func NewEngine(standards ports.StandardRepository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{standards: standards, logger: logger}
}

// Evaluate resolves the record's standard and checks it. It always returns a verdict.
func (e *Engine) Evaluate(ctx context.Context, record domain.MeasurementRecord) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Verdict: domain.VerdictUnknown, Message: fmt.Sprintf("rule evaluation failed: %v", r)}
		}
	}()

	if record.ScenarioCode == nil {
		return Result{Verdict: domain.VerdictUnknown, Message: MessageScenarioUnresolved}
	}
	if e.standards == nil {
		return Result{Verdict: domain.VerdictUnknown, Message: "rule evaluation failed: no standards source"}
	}

	standard, err := e.standards.GetStandard(ctx, *record.ScenarioCode)
	if err != nil {
		if errors.Is(err, domain.ErrStandardNotFound) {
			return Result{
				Verdict: domain.VerdictUnknown,
				Message: fmt.Sprintf("no standard for scenario %s", *record.ScenarioCode),
			}
		}
		return Result{Verdict: domain.VerdictUnknown, Message: fmt.Sprintf("rule evaluation failed: %v", err)}
	}

	return e.check(record, standard)
}

// EvaluateAgainst checks a record against a known standard; nil means the standard does not exist.
func (e *Engine) EvaluateAgainst(record domain.MeasurementRecord, standard *domain.ScenarioStandard) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Verdict: domain.VerdictUnknown, Message: fmt.Sprintf("rule evaluation failed: %v", r)}
		}
	}()

	if record.ScenarioCode == nil {
		return Result{Verdict: domain.VerdictUnknown, Message: MessageScenarioUnresolved}
	}
	if standard == nil {
		return Result{
			Verdict: domain.VerdictUnknown,
			Message: fmt.Sprintf("no standard for scenario %s", *record.ScenarioCode),
		}
	}
	return e.check(record, *standard)
}

func (e *Engine) check(record domain.MeasurementRecord, standard domain.ScenarioStandard) Result {
	var (
		violations []domain.Metric
		labels     []string
	)

	for _, metric := range domain.Metrics {
		value := record.Measurements.Value(metric)
		if !value.Valid {
			continue
		}

		band := standard.Band(metric)
		if !band.WellFormed() {
			e.logger.Warn("ill-formed band skipped",
				"scenario", standard.ScenarioCode,
				"metric", metric,
				"min", band.Min.Decimal.String(),
				"max", band.Max.Decimal.String())
			continue
		}

		if !band.Contains(value.Decimal) {
			violations = append(violations, metric)
			labels = append(labels, violationLabel(metric, value.Decimal.String(), band))
		}
	}

	if len(violations) == 0 {
		return Result{Verdict: domain.VerdictPass, Message: MessageWithinLimits}
	}

	return Result{
		Verdict:    domain.VerdictFail,
		Message:    strings.Join(labels, "; "),
		Violations: violations,
	}
}

func violationLabel(metric domain.Metric, value string, band domain.Band) string {
	lower, upper := "-inf", "+inf"
	if band.Min.Valid {
		lower = band.Min.Decimal.String()
	}
	if band.Max.Valid {
		upper = band.Max.Decimal.String()
	}
	return fmt.Sprintf("%s %s outside [%s, %s]", metric, value, lower, upper)
}
