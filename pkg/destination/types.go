// Package destination provides the client for Airtable-style tabular stores:
// schema discovery over the live REST surface and record writes with
// per-record outcome reporting. Credentials are passed explicitly into every
// call; nothing is resolved from ambient state.
package destination

import (
	"fmt"
	"time"
)

// Credentials identifies one connected destination and how to reach it.
type Credentials struct {
	// Integration is the user-facing name of the connection (e.g. "airtable-crm").
	Integration string `json:"integration"`

	// BaseURL is the API root of the destination service.
	BaseURL string `json:"base_url"`

	// APIKey authenticates requests as a bearer token.
	APIKey string `json:"api_key"`

	// BaseID selects one base/workspace when the credential reaches several.
	BaseID string `json:"base_id,omitempty"`
}

// Base is one destination base/workspace reachable by a credential.
type Base struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Field describes one field in a destination table.
type Field struct {
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
	Description string   `json:"description,omitempty"`
}

// IsChoice reports whether the field only accepts values from Options.
func (f Field) IsChoice() bool {
	return f.Type == "singleSelect" || f.Type == "multipleSelect"
}

// IsDate reports whether the field holds a calendar date.
func (f Field) IsDate() bool {
	return f.Type == "date" || f.Type == "dateTime"
}

// IsLink reports whether the field holds references to other records.
func (f Field) IsLink() bool {
	return f.Type == "multipleRecordLinks" || f.Type == "link"
}

// Table describes one table in a discovered schema.
type Table struct {
	ID     string           `json:"id"`
	Fields map[string]Field `json:"fields"`
}

// Schema is the discovered structure of one destination, fetched fresh per
// pipeline run. Read-only once fetched.
type Schema struct {
	Integration string           `json:"integration"`
	BaseID      string           `json:"base_id"`
	Tables      map[string]Table `json:"tables"`
}

// TableNames returns the discovered table names.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	return names
}

// FieldMap is one record as field-name → value pairs.
type FieldMap map[string]interface{}

// RecordError describes one rejected record in a batch.
type RecordError struct {
	RecordIndex int    `json:"record_index"`
	Reason      string `json:"reason"`
}

// WriteResult is the outcome of a record write. Partial success is
// representable: some records may succeed while others fail.
type WriteResult struct {
	InsertedCount    int           `json:"inserted_count"`
	CreatedRecordIDs []string      `json:"created_record_ids,omitempty"`
	Errors           []RecordError `json:"errors,omitempty"`
}

// Record is one stored record returned by the list API.
type Record struct {
	ID          string    `json:"id"`
	Fields      FieldMap  `json:"fields"`
	CreatedTime time.Time `json:"createdTime"`
}

// ErrorClass distinguishes the destination error classes the pipeline must
// surface distinctly.
type ErrorClass string

const (
	ClassPermission    ErrorClass = "permission"
	ClassTableNotFound ErrorClass = "table_not_found"
	ClassUnknownField  ErrorClass = "unknown_field_name"
	ClassInvalidValue  ErrorClass = "invalid_value_for_field_type"
	ClassInvalidChoice ErrorClass = "invalid_choice_option"
	ClassOther         ErrorClass = "other"
)

// APIError is a classified destination API failure.
type APIError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.Class, e.StatusCode, e.Message)
}
