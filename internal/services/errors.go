// Package services defines the business logic for coverage imports and
// coverage queries. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrNoValidCodes is returned when an import submission contains no
	// token that normalizes to a valid 8-digit postal code. The run never
	// starts and no network calls are made.
	ErrNoValidCodes = errors.New("no valid postal codes found")

	// ErrRunNotFound indicates that the requested import run does not
	// exist or has already been evicted after its retention window.
	ErrRunNotFound = errors.New("import run not found")

	// ErrInvalidPostalCode is returned when a single user-supplied code
	// does not normalize to exactly 8 digits.
	ErrInvalidPostalCode = errors.New("invalid postal code")

	// ErrCoverageNotFound indicates that no coverage exists for the
	// requested postal code (the address is not serviceable).
	ErrCoverageNotFound = errors.New("coverage area not found")
)
