// Package runlog records one audit entry per processed event.
package runlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal outcome of a pipeline run.
type Status string

const (
	// StatusSuccess means the run completed with nothing to write.
	StatusSuccess Status = "Success"
	// StatusFailed means the run aborted on an error.
	StatusFailed Status = "Failed"
	// StatusProcessed means at least one record was written to a destination.
	StatusProcessed Status = "Processed"
	// StatusSkip means triage decided the event was not worth processing.
	StatusSkip Status = "Skip"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusProcessed, StatusSkip:
		return true
	}
	return false
}

// RunRecord is a single append-only audit entry. Exactly one is written per
// inbound event, whatever the outcome.
type RunRecord struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"userId"`
	RunTime     time.Time `json:"runTime"`
	DataType    string    `json:"dataType"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Status      Status    `json:"status"`
}

// Validate checks the record is complete enough to persist.
func (r *RunRecord) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if r.RunTime.IsZero() {
		return fmt.Errorf("runTime is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}
