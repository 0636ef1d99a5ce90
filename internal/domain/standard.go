package domain

import "github.com/shopspring/decimal"

// Band is an inclusive [Min, Max] range. An invalid bound imposes no limit on that side.
type Band struct {
	Min decimal.NullDecimal
	Max decimal.NullDecimal
}

// WellFormed is false only when both bounds are set and Min > Max.
func (b Band) WellFormed() bool {
	if b.Min.Valid && b.Max.Valid {
		return b.Min.Decimal.LessThanOrEqual(b.Max.Decimal)
	}
	return true
}

// Contains reports whether v satisfies every present bound.
func (b Band) Contains(v decimal.Decimal) bool {
	if b.Min.Valid && v.LessThan(b.Min.Decimal) {
		return false
	}
	if b.Max.Valid && v.GreaterThan(b.Max.Decimal) {
		return false
	}
	return true
}

// ScenarioStandard holds the quality thresholds of one application scenario.
type ScenarioStandard struct {
	ScenarioCode  string
	Diameter      Band
	Conductivity  Band
	Extensibility Band
	Weight        Band
}

// Band returns the thresholds for a metric.
func (s ScenarioStandard) Band(metric Metric) Band {
	switch metric {
	case MetricDiameter:
		return s.Diameter
	case MetricConductivity:
		return s.Conductivity
	case MetricExtensibility:
		return s.Extensibility
	case MetricWeight:
		return s.Weight
	default:
		return Band{}
	}
}
