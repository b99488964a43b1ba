package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

const (
	CodeAuthRejected        ErrorCode = "auth_rejected"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeSchemaMismatch      ErrorCode = "schema_mismatch"
	CodePartialWrite        ErrorCode = "partial_write"
	CodeWriteRejected       ErrorCode = "write_rejected"
	CodeReasoningFailure    ErrorCode = "reasoning_failure"
	CodeTimeout             ErrorCode = "timeout"
	CodeContextCancelled    ErrorCode = "context_cancelled"
	CodeProcessingError     ErrorCode = "processing_error"
)

// PipelineError is a structured error for pipeline stage failures.
type PipelineError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Timeout  time.Duration
	Cause    error
}

func (e *PipelineError) Error() string {
	if e.Timeout > 0 && e.Duration > 0 {
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)", e.Code, e.Stage, e.Duration.Truncate(time.Millisecond), e.Timeout.Truncate(time.Millisecond))
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Sentinel returns the domain sentinel error corresponding to the code, so
// callers can keep using errors.Is on a wrapped PipelineError.
func (e *PipelineError) Sentinel() error {
	switch e.Code {
	case CodeAuthRejected:
		return ErrAuthRejected
	case CodeUpstreamUnavailable, CodeTimeout:
		return ErrUpstreamUnavailable
	case CodeSchemaMismatch:
		return ErrSchemaMismatch
	case CodePartialWrite:
		return ErrPartialWrite
	case CodeReasoningFailure:
		return ErrReasoningFailure
	default:
		return nil
	}
}

// ClassifyError inspects an error and returns a *PipelineError with the
// appropriate code. If the error doesn't match any known pattern, it returns
// a PipelineError with CodeProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	pe := &PipelineError{
		Stage: stage,
		Cause: err,
	}

	// Already-classified domain sentinels win over message sniffing.
	switch {
	case errors.Is(err, ErrAuthRejected):
		pe.Code = CodeAuthRejected
		pe.Message = err.Error()
		return pe
	case errors.Is(err, ErrUpstreamUnavailable):
		pe.Code = CodeUpstreamUnavailable
		pe.Message = err.Error()
		return pe
	case errors.Is(err, ErrSchemaMismatch):
		pe.Code = CodeSchemaMismatch
		pe.Message = err.Error()
		return pe
	case errors.Is(err, ErrPartialWrite):
		pe.Code = CodePartialWrite
		pe.Message = err.Error()
		return pe
	case errors.Is(err, ErrReasoningFailure):
		pe.Code = CodeReasoningFailure
		pe.Message = err.Error()
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = CodeTimeout
		pe.Message = "operation timed out"
		return pe
	}

	if errors.Is(err, context.Canceled) {
		pe.Code = CodeContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication") {
		pe.Code = CodeAuthRejected
		pe.Message = msg
		return pe
	}

	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") || strings.Contains(lower, "503") || strings.Contains(lower, "502") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "timeout") {
		pe.Code = CodeUpstreamUnavailable
		pe.Message = msg
		return pe
	}

	if strings.Contains(lower, "unknown field") || strings.Contains(lower, "invalid choice") || strings.Contains(lower, "schema") {
		pe.Code = CodeSchemaMismatch
		pe.Message = msg
		return pe
	}

	pe.Code = CodeProcessingError
	pe.Message = msg
	return pe
}

// IsTimeout returns true if the error is a classified timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == CodeTimeout
	}
	return false
}

// IsUserActionable returns true when the error requires user intervention
// (e.g. reconnecting an integration) rather than reflecting a transient
// upstream condition.
func IsUserActionable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		if info, ok := ErrorCodeRegistry[pe.Code]; ok {
			return info.UserActionable
		}
	}
	return false
}
