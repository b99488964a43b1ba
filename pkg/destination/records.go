package destination

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListOptions controls the GET /records query.
type ListOptions struct {
	PageSize        int
	Offset          string
	FilterByFormula string
	Sort            string
	View            string
}

// listResponse is the GET /records payload. Offset is the pagination
// continuation token; empty means the last page.
type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// ListRecords fetches one page of records from a table.
func (c *Client) ListRecords(ctx context.Context, creds Credentials, tableName string, opts ListOptions) ([]Record, string, error) {
	query := url.Values{"table": {tableName}}
	if creds.BaseID != "" {
		query.Set("baseId", creds.BaseID)
	}
	if opts.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	if opts.Offset != "" {
		query.Set("offset", opts.Offset)
	}
	if opts.FilterByFormula != "" {
		query.Set("filterByFormula", opts.FilterByFormula)
	}
	if opts.Sort != "" {
		query.Set("sort", opts.Sort)
	}
	if opts.View != "" {
		query.Set("view", opts.View)
	}

	var resp listResponse
	if err := c.doJSON(ctx, creds, http.MethodGet, "/records", query, nil, &resp); err != nil {
		return nil, "", fmt.Errorf("listing records from %q: %w", tableName, err)
	}
	return resp.Records, resp.Offset, nil
}

// ListAllRecords follows pagination tokens until the table is exhausted.
func (c *Client) ListAllRecords(ctx context.Context, creds Credentials, tableName string, opts ListOptions) ([]Record, error) {
	var all []Record
	for {
		page, offset, err := c.ListRecords(ctx, creds, tableName, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if offset == "" {
			return all, nil
		}
		opts.Offset = offset
	}
}
