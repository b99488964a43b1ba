package destination

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mailroute/mailroute/pkg/logging"
)

// basesResponse is the GET /bases payload.
type basesResponse struct {
	Bases []Base `json:"bases"`
}

// tablesResponse is the GET /tables payload.
type tablesResponse struct {
	Tables []tableDef `json:"tables"`
}

type tableDef struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Fields      []fieldDef `json:"fields"`
}

type fieldDef struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Required    bool          `json:"required"`
	Description string        `json:"description,omitempty"`
	Options     *fieldOptions `json:"options,omitempty"`
}

type fieldOptions struct {
	Choices []choiceDef `json:"choices,omitempty"`
}

type choiceDef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ListBases enumerates the bases reachable by the credential.
func (c *Client) ListBases(ctx context.Context, creds Credentials) ([]Base, error) {
	var resp basesResponse
	if err := c.doJSON(ctx, creds, http.MethodGet, "/bases", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing bases: %w", err)
	}
	return resp.Bases, nil
}

// Discover fetches the live structure of one destination: every table
// reachable under the credential and, per table, every field with its type,
// required flag, and choice options. Never cached; schema drift between runs
// must not silently corrupt mappings.
func (c *Client) Discover(ctx context.Context, creds Credentials) (*Schema, error) {
	baseID := creds.BaseID
	if baseID == "" {
		bases, err := c.ListBases(ctx, creds)
		if err != nil {
			return nil, err
		}
		if len(bases) == 0 {
			return nil, fmt.Errorf("credential %q reaches no bases", creds.Integration)
		}
		baseID = bases[0].ID
	}

	query := url.Values{"baseId": {baseID}}
	var resp tablesResponse
	if err := c.doJSON(ctx, creds, http.MethodGet, "/tables", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing tables for base %s: %w", baseID, err)
	}

	schema := &Schema{
		Integration: creds.Integration,
		BaseID:      baseID,
		Tables:      make(map[string]Table, len(resp.Tables)),
	}
	for _, t := range resp.Tables {
		table := Table{
			ID:     t.ID,
			Fields: make(map[string]Field, len(t.Fields)),
		}
		for _, f := range t.Fields {
			field := Field{
				Type:        f.Type,
				Required:    f.Required,
				Description: f.Description,
			}
			if f.Options != nil {
				for _, choice := range f.Options.Choices {
					field.Options = append(field.Options, choice.Name)
				}
			}
			table.Fields[f.Name] = field
		}
		schema.Tables[t.Name] = table
	}

	c.logger.Debug("Schema discovered",
		logging.F("integration", creds.Integration),
		logging.F("base_id", baseID),
		logging.F("tables", len(schema.Tables)))

	return schema, nil
}
