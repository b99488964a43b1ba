package destination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mailroute/mailroute/pkg/logging"
)

// maxBatchSize is the destination's per-request record limit.
const maxBatchSize = 10

// createRequest is the POST /records payload.
type createRequest struct {
	Records []recordEnvelope `json:"records"`
}

type recordEnvelope struct {
	Fields FieldMap `json:"fields"`
}

// createResponse is the POST /records response.
type createResponse struct {
	Records []struct {
		ID     string   `json:"id"`
		Fields FieldMap `json:"fields"`
	} `json:"records"`
}

// Write inserts records into a destination table. Records are wrapped in the
// API's {"fields": {...}} envelope; callers that already nested their payload
// are normalized to exactly one level of nesting. On rejection the batch is
// degraded to per-record submissions so the result can report which records
// succeeded and which failed with the destination-reported reason.
func (c *Client) Write(ctx context.Context, creds Credentials, tableName string, records []FieldMap) (*WriteResult, error) {
	result := &WriteResult{}
	if len(records) == 0 {
		return result, nil
	}

	normalized := make([]FieldMap, len(records))
	for i, r := range records {
		normalized[i] = NormalizeRecord(r)
	}

	for start := 0; start < len(normalized); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(normalized) {
			end = len(normalized)
		}
		chunk := normalized[start:end]

		ids, err := c.createChunk(ctx, creds, tableName, chunk)
		if err == nil {
			result.InsertedCount += len(ids)
			result.CreatedRecordIDs = append(result.CreatedRecordIDs, ids...)
			continue
		}

		// Credential and availability failures abort the whole write; a
		// record-attributable rejection degrades to per-record submission.
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, fmt.Errorf("writing to %q: %w", tableName, err)
		}
		if apiErr.Class == ClassTableNotFound {
			return nil, fmt.Errorf("writing to %q: %w", tableName, err)
		}

		for i, rec := range chunk {
			ids, recErr := c.createChunk(ctx, creds, tableName, []FieldMap{rec})
			if recErr != nil {
				var recAPIErr *APIError
				if !errors.As(recErr, &recAPIErr) {
					return nil, fmt.Errorf("writing record %d to %q: %w", start+i, tableName, recErr)
				}
				result.Errors = append(result.Errors, RecordError{
					RecordIndex: start + i,
					Reason:      string(recAPIErr.Class),
				})
				continue
			}
			result.InsertedCount += len(ids)
			result.CreatedRecordIDs = append(result.CreatedRecordIDs, ids...)
		}
	}

	c.logger.Debug("Write complete",
		logging.F("table", tableName),
		logging.F("inserted", result.InsertedCount),
		logging.F("rejected", len(result.Errors)))

	return result, nil
}

// createChunk performs one POST /records call.
func (c *Client) createChunk(ctx context.Context, creds Credentials, tableName string, chunk []FieldMap) ([]string, error) {
	req := createRequest{Records: make([]recordEnvelope, len(chunk))}
	for i, fields := range chunk {
		req.Records[i] = recordEnvelope{Fields: fields}
	}

	query := url.Values{"table": {tableName}}
	if creds.BaseID != "" {
		query.Set("baseId", creds.BaseID)
	}

	var resp createResponse
	if err := c.doJSON(ctx, creds, http.MethodPost, "/records", query, req, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Records))
	for _, r := range resp.Records {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// NormalizeRecord flattens an already-wrapped {"fields": {...}} payload so
// the write path always nests exactly once. Double-wrapping otherwise slips
// through silently and the destination stores a record with a single literal
// "fields" column.
func NormalizeRecord(record FieldMap) FieldMap {
	if len(record) != 1 {
		return record
	}
	inner, ok := record["fields"]
	if !ok {
		return record
	}
	switch v := inner.(type) {
	case FieldMap:
		return NormalizeRecord(v)
	case map[string]interface{}:
		return NormalizeRecord(FieldMap(v))
	default:
		return record
	}
}
