package internal

import "errors"

// Error taxonomy shared by every stage of the pipeline.
var (
	// ErrSourceUnavailable covers network failures, timeouts and bad statuses.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSourceMalformed covers response bodies that cannot be parsed.
	ErrSourceMalformed = errors.New("source malformed")
	// ErrRecordRejected is returned for a single candidate that fails validation.
	ErrRecordRejected = errors.New("record rejected")
	// ErrPersistFailure is returned when the artifact cannot be written.
	ErrPersistFailure = errors.New("persist failure")
	// ErrConfig is returned for missing or invalid configuration.
	ErrConfig = errors.New("config error")
)
