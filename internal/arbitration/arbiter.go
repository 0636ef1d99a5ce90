// Package arbitration combines the rule verdict and the model prediction into one final verdict.
//
// The policy is conservative: a missing prediction, a prediction below the
// confidence threshold or any disagreement between rules and model defers the
// batch to a human reviewer.
package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/ports"
	"MicrowireQC/internal/rules"
)

// DefaultConfidenceThreshold applies when no threshold is configured.
const DefaultConfidenceThreshold = 0.8

// Reason explains which branch of the decision produced the final verdict.
type Reason string

const (
	ReasonModelUnavailable Reason = "model_unavailable"
	ReasonLowConfidence    Reason = "low_confidence"
	ReasonDisagreement     Reason = "disagreement"
	ReasonAgreement        Reason = "agreement"
	ReasonInternalError    Reason = "internal_error"
)

// Input is what the decision looks at.
type Input struct {
	RuleVerdict     domain.Verdict
	ModelVerdict    domain.Verdict
	ModelConfidence float64
}

// Decision is the final verdict and why it was reached.
type Decision struct {
	Verdict domain.Verdict
	Reason  Reason
}

// Decide applies the rules in priority order. Disagreement defers even when the model is very confident.
func Decide(in Input, threshold float64) Decision {
	if !in.ModelVerdict.Conclusive() {
		return Decision{Verdict: domain.VerdictPendingReview, Reason: ReasonModelUnavailable}
	}
	if in.ModelConfidence < threshold {
		return Decision{Verdict: domain.VerdictPendingReview, Reason: ReasonLowConfidence}
	}
	if in.RuleVerdict != in.ModelVerdict {
		return Decision{Verdict: domain.VerdictPendingReview, Reason: ReasonDisagreement}
	}
	return Decision{Verdict: in.ModelVerdict, Reason: ReasonAgreement}
}

// RuleEvaluator is satisfied by *rules.Engine.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, record domain.MeasurementRecord) rules.Result
}

// Outcome carries everything one evaluation pass produced.
type Outcome struct {
	Rule         rules.Result
	Prediction   domain.Prediction
	PredictorErr error
	Decision     Decision
}

// Evaluation flattens the outcome into the persisted evaluation fields.
func (o Outcome) Evaluation(at time.Time) domain.Evaluation {
	modelVerdict := o.Prediction.Verdict
	confidence := o.Prediction.Confidence
	if o.PredictorErr != nil || !modelVerdict.Conclusive() {
		modelVerdict = domain.VerdictUnknown
		confidence = 0
	}

	ruleVerdict := o.Rule.Verdict
	if ruleVerdict == "" {
		ruleVerdict = domain.VerdictUnknown
	}

	return domain.Evaluation{
		RuleVerdict:     ruleVerdict,
		RuleMessage:     o.Rule.Message,
		ModelVerdict:    modelVerdict,
		ModelConfidence: confidence,
		FinalVerdict:    o.Decision.Verdict,
		FinalReason:     string(o.Decision.Reason),
		EvaluatedAt:     at,
	}
}

// Arbiter runs the rule engine and the predictor side by side and decides.
type Arbiter struct {
	rules     RuleEvaluator
	predictor ports.Predictor
	threshold float64
	logger    *slog.Logger
}

// NewArbiter wires both classifiers. A non-positive threshold falls back to DefaultConfidenceThreshold.
func NewArbiter(ruleEval RuleEvaluator, predictor ports.Predictor, threshold float64, logger *slog.Logger) *Arbiter {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Arbiter{rules: ruleEval, predictor: predictor, threshold: threshold, logger: logger}
}

// Threshold returns the confidence floor in use.
func (a *Arbiter) Threshold() float64 {
	return a.threshold
}

// Arbitrate never fails: every failure path ends in PENDING_REVIEW.
func (a *Arbiter) Arbitrate(ctx context.Context, record domain.MeasurementRecord) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("arbitration panicked", "batch", record.BatchNumber, "panic", r)
			out.Decision = Decision{Verdict: domain.VerdictPendingReview, Reason: ReasonInternalError}
		}
	}()

	var g errgroup.Group

	g.Go(func() (err error) {
		defer recoverInto(&err, "rule engine")
		if a.rules == nil {
			out.Rule = rules.Result{Verdict: domain.VerdictUnknown, Message: "rule engine not configured"}
			return nil
		}
		out.Rule = a.rules.Evaluate(ctx, record)
		return nil
	})

	g.Go(func() (err error) {
		defer recoverInto(&err, "predictor")
		if a.predictor == nil {
			out.PredictorErr = fmt.Errorf("predictor not configured")
			return nil
		}
		out.Prediction, out.PredictorErr = a.predictor.Predict(ctx, record)
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error("evaluation step failed", "batch", record.BatchNumber, "error", err)
		out.Decision = Decision{Verdict: domain.VerdictPendingReview, Reason: ReasonInternalError}
		return out
	}

	modelVerdict := out.Prediction.Verdict
	confidence := out.Prediction.Confidence
	if out.PredictorErr != nil {
		a.logger.Warn("prediction unavailable", "batch", record.BatchNumber, "error", out.PredictorErr)
		modelVerdict = domain.VerdictUnknown
		confidence = 0
	}

	out.Decision = Decide(Input{
		RuleVerdict:     out.Rule.Verdict,
		ModelVerdict:    modelVerdict,
		ModelConfidence: confidence,
	}, a.threshold)

	a.logger.Debug("arbitrated",
		"batch", record.BatchNumber,
		"rule", out.Rule.Verdict,
		"model", modelVerdict,
		"confidence", confidence,
		"final", out.Decision.Verdict,
		"reason", out.Decision.Reason)

	return out
}

func recoverInto(err *error, step string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panicked: %v", step, r)
	}
}
