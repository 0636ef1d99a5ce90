// Package telemetry turns raw device reports into measurement records.
package telemetry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"MicrowireQC/internal/batch"
	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/provenance"
)

// EventTimeLayout is the compact UTC layout devices stamp reports with.
const EventTimeLayout = "20060102T150405Z"

// Device property names inside services[0].properties.
const (
	PropDiameter      = "Diameter"
	PropResistance    = "Resistance" // carries conductivity
	PropExtensibility = "Extensibility"
	PropWeight        = "Weight"
	PropBatch         = "Batch"
	PropSourceOrigin  = "SourceOrigin"
)

const schemaURL = "mem://telemetry/report.schema.json"

//go:embed report.schema.json
var reportSchema string

// Report is the device report envelope. Fields a device may send with the
// wrong JSON kind stay raw and are checked one by one.
type Report struct {
	EventTime  json.RawMessage `json:"event_time"`
	NotifyData NotifyData      `json:"notify_data"`
}

type NotifyData struct {
	Header Header `json:"header"`
	Body   Body   `json:"body"`
}

type Header struct {
	DeviceID string `json:"device_id"`
}

// Body keeps services raw; only the first one is read.
type Body struct {
	Services []json.RawMessage `json:"services"`
}

// Service holds raw property values; devices send numbers as strings or as JSON numbers.
type Service struct {
	Properties map[string]json.RawMessage `json:"properties"`
}

// Issue is a field-level problem that degraded the record without rejecting it.
type Issue struct {
	Field  string
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Reason)
}

// Result is a normalized record plus the issues met on the way.
type Result struct {
	Record domain.MeasurementRecord
	Issues []Issue
}

// Normalizer validates and maps device reports.
type Normalizer struct {
	schema     *jsonschema.Schema
	provenance *provenance.Decoder
	location   *time.Location
	now        func() time.Time
}

// NewNormalizer compiles the report schema. loc is the civil zone event times are converted to.
func NewNormalizer(prov *provenance.Decoder, loc *time.Location) (*Normalizer, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(reportSchema)); err != nil {
		return nil, fmt.Errorf("add report schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile report schema: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Normalizer{
		schema:     schema,
		provenance: prov,
		location:   loc,
		now:        time.Now,
	}, nil
}

// Normalize parses one raw report. Only missing identity or an unreadable
// document fail; every other problem is reported in Result.Issues.
func (n *Normalizer) Normalize(raw []byte) (Result, error) {
	report, err := n.parse(raw)
	if err != nil {
		return Result{}, err
	}

	deviceID := strings.TrimSpace(report.NotifyData.Header.DeviceID)
	if deviceID == "" {
		return Result{}, domain.ErrMissingDeviceID
	}

	var props map[string]json.RawMessage
	if services := report.NotifyData.Body.Services; len(services) > 0 {
		var first Service
		if err := json.Unmarshal(services[0], &first); err == nil {
			props = first.Properties
		}
	}

	batchNumber, _, _ := stringProperty(props, PropBatch)
	batchNumber = strings.TrimSpace(batchNumber)
	if batchNumber == "" {
		return Result{}, fmt.Errorf("device %s: %w", deviceID, domain.ErrMissingBatchNumber)
	}

	var issues []Issue
	record := domain.MeasurementRecord{
		BatchNumber: batchNumber,
		DeviceID:    deviceID,
		Evaluation:  domain.UnknownEvaluation(),
	}

	if ids, err := batch.Parse(batchNumber); err != nil {
		issues = append(issues, Issue{Field: "batch", Reason: err.Error()})
	} else {
		record.ScenarioCode = &ids.ScenarioCode
		record.DeviceCode = &ids.DeviceCode
	}

	eventTime, err := parseEventTime(report.EventTime)
	if err != nil {
		issues = append(issues, Issue{Field: "event_time", Reason: err.Error() + ", using current time"})
		eventTime = n.now()
	}
	record.EventTime = eventTime.In(n.location)

	record.Diameter = n.decimalProperty(props, PropDiameter, &issues)
	record.Conductivity = n.decimalProperty(props, PropResistance, &issues)
	record.Extensibility = n.decimalProperty(props, PropExtensibility, &issues)
	record.Weight = n.decimalProperty(props, PropWeight, &issues)

	origin, ok, err := stringProperty(props, PropSourceOrigin)
	switch {
	case err != nil:
		issues = append(issues, Issue{Field: "source_origin", Reason: err.Error()})
	case ok && origin != "" && n.provenance != nil:
		prov, provIssues := n.provenance.Decode(origin)
		record.Provenance = prov
		for _, pi := range provIssues {
			issues = append(issues, Issue{Field: "source_origin." + pi.Field, Reason: pi.Reason})
		}
	default:
		issues = append(issues, Issue{Field: "source_origin", Reason: "absent"})
	}

	return Result{Record: record, Issues: issues}, nil
}

func (n *Normalizer) parse(raw []byte) (Report, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Report{}, fmt.Errorf("%w: %v", domain.ErrMalformedReport, err)
	}
	if err := n.schema.Validate(doc); err != nil {
		return Report{}, fmt.Errorf("%w: %v", domain.ErrMalformedReport, err)
	}

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, fmt.Errorf("%w: %v", domain.ErrMalformedReport, err)
	}
	return report, nil
}

func (n *Normalizer) decimalProperty(props map[string]json.RawMessage, name string, issues *[]Issue) decimal.NullDecimal {
	text, ok, err := stringProperty(props, name)
	if err != nil {
		*issues = append(*issues, Issue{Field: name, Reason: err.Error()})
		return decimal.NullDecimal{}
	}
	if !ok {
		return decimal.NullDecimal{}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		*issues = append(*issues, Issue{Field: name, Reason: fmt.Sprintf("not a number: %q", text)})
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// stringProperty returns the textual form of a string or number property.
// ok is false for an absent or null value; any other JSON kind is an error.
func stringProperty(props map[string]json.RawMessage, name string) (string, bool, error) {
	raw, ok := props[name]
	if !ok {
		return "", false, nil
	}
	return scalarText(raw)
}

func scalarText(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}

	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, fmt.Errorf("invalid string: %v", err)
		}
		return s, true, nil
	case c == '-' || (c >= '0' && c <= '9'):
		return string(raw), true, nil
	case c == 't' || c == 'f':
		return "", false, fmt.Errorf("unsupported boolean value %s", raw)
	case c == '{':
		return "", false, fmt.Errorf("unsupported object value")
	case c == '[':
		return "", false, fmt.Errorf("unsupported array value")
	default:
		return "", false, fmt.Errorf("unsupported value %s", raw)
	}
}

func parseEventTime(raw json.RawMessage) (time.Time, error) {
	text, ok, err := scalarText(raw)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("absent")
	}
	t, err := time.ParseInLocation(EventTimeLayout, strings.TrimSpace(text), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable %q", text)
	}
	return t, nil
}
