// Package provenance decodes the SourceOrigin property devices attach to each batch.
package provenance

import (
	"fmt"
	"strings"

	"MicrowireQC/internal/domain"
)

const (
	separator     = "_"
	segmentCount  = 5
	contactIndex  = segmentCount - 1
	missingReason = "segment missing"
)

var segmentNames = [segmentCount]string{
	"manufacturer",
	"responsible_person",
	"process_type",
	"production_machine",
	"contact_email",
}

// TextDecoder is satisfied by *codec.Codec.
type TextDecoder interface {
	Decode(hex string) (string, error)
}

// Issue records why a provenance field ended up absent.
type Issue struct {
	Field  string
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Reason)
}

// Decoder splits and decodes <hex>_<hex>_<hex>_<hex>_<plaintext>.
type Decoder struct {
	text TextDecoder
}

// NewDecoder wires the hex/text codec used for the first four segments.
func NewDecoder(text TextDecoder) *Decoder {
	return &Decoder{text: text}
}

// Decode never fails as a whole: each unusable segment is reported and left absent.
// The contact segment keeps any further underscores.
func (d *Decoder) Decode(raw string) (domain.Provenance, []Issue) {
	var (
		values [segmentCount]*string
		issues []Issue
	)

	segments := strings.SplitN(raw, separator, segmentCount)
	if raw == "" {
		segments = nil
	}

	for i := 0; i < segmentCount; i++ {
		if i >= len(segments) {
			issues = append(issues, Issue{Field: segmentNames[i], Reason: missingReason})
			continue
		}

		segment := segments[i]
		if i == contactIndex {
			if segment != "" {
				values[i] = &segment
			}
			continue
		}

		decoded, err := d.text.Decode(segment)
		if err != nil {
			issues = append(issues, Issue{Field: segmentNames[i], Reason: err.Error()})
			continue
		}
		decoded = strings.TrimSpace(decoded)
		if decoded == "" {
			issues = append(issues, Issue{Field: segmentNames[i], Reason: "blank after decoding"})
			continue
		}
		values[i] = &decoded
	}

	return domain.Provenance{
		Manufacturer:      values[0],
		ResponsiblePerson: values[1],
		ProcessType:       values[2],
		ProductionMachine: values[3],
		ContactEmail:      values[4],
	}, issues
}
