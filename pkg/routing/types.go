// Package routing selects a destination table for extracted content and maps
// it onto the table's discovered schema.
package routing

import (
	"github.com/mailroute/mailroute/pkg/destination"
)

// DecisionStatus reports whether routing produced a usable mapping.
type DecisionStatus string

const (
	StatusSuccess DecisionStatus = "success"
	StatusError   DecisionStatus = "error"
)

// Decision is the routing stage output. When Status is StatusError the
// mapping fields are empty and Explanation says why no destination fit.
type Decision struct {
	SelectedIntegration string                 `json:"selectedIntegration"`
	TableName           string                 `json:"tableName"`
	MappedRecords       []destination.FieldMap `json:"mappedRecords"`
	Confidence          float64                `json:"confidence"`
	Reasoning           string                 `json:"reasoning"`
	Status              DecisionStatus         `json:"status"`
	Explanation         string                 `json:"explanation"`
}

// Candidate pairs a destination credential with its freshly discovered
// schema. Schemas are fetched per run, never cached, so drift between runs
// cannot corrupt mappings.
type Candidate struct {
	Credentials destination.Credentials
	Schema      *destination.Schema
}
