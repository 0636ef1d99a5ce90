package domain

import "errors"

var (
	ErrMissingDeviceID    = errors.New("telemetry: missing device id")
	ErrMissingBatchNumber = errors.New("telemetry: missing batch number")
	ErrMalformedReport    = errors.New("telemetry: malformed report")

	ErrRecordNotFound   = errors.New("measurement record not found")
	ErrStandardNotFound = errors.New("scenario standard not found")

	// ErrReviewNotAllowed is returned when the record is already settled.
	ErrReviewNotAllowed     = errors.New("review not allowed for record")
	ErrInvalidReviewVerdict = errors.New("review verdict must be PASS or FAIL")
)
