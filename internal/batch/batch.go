// Package batch extracts identifiers embedded in production batch codes.
//
// A batch code looks like Cu0120250629010010001: characters 3-4 hold the
// application scenario and characters 13-14 the producing device.
package batch

import (
	"errors"
	"fmt"
)

// MinLength is the shortest batch code that carries both identifiers.
const MinLength = 21

var ErrTooShort = errors.New("batch code too short")

// Identifiers are the codes embedded in a batch number.
type Identifiers struct {
	ScenarioCode string
	DeviceCode   string
}

// Parse slices the fixed positions out of code.
func Parse(code string) (Identifiers, error) {
	runes := []rune(code)
	if len(runes) < MinLength {
		return Identifiers{}, fmt.Errorf("%w: %q has %d characters, need %d", ErrTooShort, code, len(runes), MinLength)
	}

	return Identifiers{
		ScenarioCode: string(runes[2:4]),
		DeviceCode:   string(runes[12:14]),
	}, nil
}
