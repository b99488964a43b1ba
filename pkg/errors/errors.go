// Package errors provides common domain error types for mailroute.
//
// This package defines sentinel errors for the failure classes every pipeline
// stage must convert its external-call failures into before returning to the
// orchestrator. Using typed errors enables consistent handling with
// errors.Is() checks: the orchestrator never sees a raw network exception.
//
// Usage:
//
//	import mrerrors "github.com/mailroute/mailroute/pkg/errors"
//
//	// Return a domain error
//	return nil, fmt.Errorf("listing bases: %w", mrerrors.ErrAuthRejected)
//
//	// Check for domain errors
//	if mrerrors.IsAuthRejected(err) {
//	    // surface "reconnect integration" to the user
//	}
package errors

import "errors"

// Domain errors - sentinel errors for the pipeline failure taxonomy.
var (
	// ErrAuthRejected indicates a bad or expired destination credential.
	// User-actionable: the integration must be reconnected.
	ErrAuthRejected = errors.New("auth rejected")

	// ErrUpstreamUnavailable indicates the destination or extraction service
	// is unreachable or returned a 5xx. Transient, but never auto-retried.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrSchemaMismatch indicates a mapped field name or value does not exist
	// or fit in the discovered schema. A defect in routing output, caught
	// before any write is attempted.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrPartialWrite indicates some records in a batch were rejected.
	// Not a hard failure; per-record detail travels with the WriteResult.
	ErrPartialWrite = errors.New("partial write failure")

	// ErrReasoningFailure indicates the triage or routing reasoning call
	// itself errored. Degrades to a safe default decision, never propagates
	// as an unhandled failure.
	ErrReasoningFailure = errors.New("reasoning service failure")

	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")
)

// IsAuthRejected reports whether any error in err's chain is ErrAuthRejected.
func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}

// IsUpstreamUnavailable reports whether any error in err's chain is ErrUpstreamUnavailable.
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// IsSchemaMismatch reports whether any error in err's chain is ErrSchemaMismatch.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// IsPartialWrite reports whether any error in err's chain is ErrPartialWrite.
func IsPartialWrite(err error) bool {
	return errors.Is(err, ErrPartialWrite)
}

// IsReasoningFailure reports whether any error in err's chain is ErrReasoningFailure.
func IsReasoningFailure(err error) bool {
	return errors.Is(err, ErrReasoningFailure)
}

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
