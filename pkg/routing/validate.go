package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailroute/mailroute/pkg/destination"
	mrerrors "github.com/mailroute/mailroute/pkg/errors"
)

// dateLayouts are the input formats normalized to ISO calendar dates.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// ValidateDecision checks a success decision hard against the discovered
// schemas: the selected integration and table must exist, every mapped field
// key must be in the table's field set, choice values must be declared
// options, and date values are normalized in place to YYYY-MM-DD. Any
// violation is a schema mismatch and must stop the run before the writer is
// called.
func ValidateDecision(d *Decision, candidates []Candidate) error {
	if d.Status != StatusSuccess {
		return fmt.Errorf("cannot validate a non-success decision")
	}

	var schema *destination.Schema
	for _, cand := range candidates {
		if cand.Credentials.Integration == d.SelectedIntegration {
			schema = cand.Schema
			break
		}
	}
	if schema == nil {
		return fmt.Errorf("selected integration %q is not a discovered destination: %w",
			d.SelectedIntegration, mrerrors.ErrSchemaMismatch)
	}

	table, ok := schema.Tables[d.TableName]
	if !ok {
		return fmt.Errorf("selected table %q not in discovered schema (tables: %s): %w",
			d.TableName, strings.Join(schema.TableNames(), ", "), mrerrors.ErrSchemaMismatch)
	}

	for i, record := range d.MappedRecords {
		if err := validateRecord(record, table); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	return nil
}

func validateRecord(record destination.FieldMap, table destination.Table) error {
	for name, value := range record {
		field, ok := table.Fields[name]
		if !ok {
			return fmt.Errorf("field %q not in table schema: %w", name, mrerrors.ErrSchemaMismatch)
		}

		switch {
		case field.IsChoice():
			if err := validateChoice(name, value, field); err != nil {
				return err
			}
		case field.IsDate():
			normalized, err := normalizeDate(value)
			if err != nil {
				return fmt.Errorf("field %q: %w: %w", name, err, mrerrors.ErrSchemaMismatch)
			}
			record[name] = normalized
		case field.IsLink():
			if err := validateLink(name, value); err != nil {
				return err
			}
		}
	}

	for name, field := range table.Fields {
		if field.Required {
			if v, ok := record[name]; !ok || v == nil || v == "" {
				return fmt.Errorf("required field %q not populated: %w", name, mrerrors.ErrSchemaMismatch)
			}
		}
	}

	return nil
}

func validateChoice(name string, value interface{}, field destination.Field) error {
	check := func(v string) error {
		for _, opt := range field.Options {
			if v == opt {
				return nil
			}
		}
		return fmt.Errorf("field %q: %q is not a declared option (%s): %w",
			name, v, strings.Join(field.Options, ", "), mrerrors.ErrSchemaMismatch)
	}

	switch v := value.(type) {
	case string:
		return check(v)
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("field %q: choice value must be a string: %w", name, mrerrors.ErrSchemaMismatch)
			}
			if err := check(s); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, s := range v {
			if err := check(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("field %q: choice value must be a string: %w", name, mrerrors.ErrSchemaMismatch)
	}
}

// normalizeDate coerces a mapped date value to an ISO calendar-date string.
func normalizeDate(value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("date value must be a string, got %T", value)
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unparsable date %q", s)
}

// validateLink ensures link fields carry reference identifiers, not prose.
func validateLink(name string, value interface{}) error {
	check := func(v string) error {
		if strings.TrimSpace(v) == "" || strings.Contains(v, " ") {
			return fmt.Errorf("field %q: link value %q is not a reference identifier: %w",
				name, v, mrerrors.ErrSchemaMismatch)
		}
		return nil
	}

	switch v := value.(type) {
	case string:
		return check(v)
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("field %q: link value must be a string identifier: %w", name, mrerrors.ErrSchemaMismatch)
			}
			if err := check(s); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, s := range v {
			if err := check(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("field %q: link value must be a string identifier: %w", name, mrerrors.ErrSchemaMismatch)
	}
}
