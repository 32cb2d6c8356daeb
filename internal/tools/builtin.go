// ABOUTME: Built-in tools for querying and reading records.
// ABOUTME: Present in every catalog so clients always have something to call.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carrelhq/carrel/internal/provider"
)

// RecordFetcher is the slice of the provider registry the built-in
// tools need.
type RecordFetcher interface {
	FetchRecords(ctx context.Context, sourceID string, q provider.Query) ([]provider.Record, error)
	FetchRecord(ctx context.Context, sourceID, recordID string) (*provider.Record, error)
	Sources() []provider.SourceInfo
}

const queryToolSchema = `{
	"type": "object",
	"properties": {
		"source": {"type": "string", "description": "Source id to query"},
		"filters": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"field": {"type": "string", "enum": ["id", "title", "text", "modified"]},
					"op": {"type": "string", "enum": ["eq", "contains", "prefix"]},
					"value": {"type": "string"}
				},
				"required": ["field", "op", "value"]
			}
		},
		"sort": {
			"type": "object",
			"properties": {
				"field": {"type": "string"},
				"descending": {"type": "boolean"}
			},
			"required": ["field"]
		},
		"limit": {"type": "integer", "minimum": 1}
	},
	"required": ["source"]
}`

const getToolSchema = `{
	"type": "object",
	"properties": {
		"source": {"type": "string", "description": "Source id"},
		"id": {"type": "string", "description": "Record id within the source"}
	},
	"required": ["source", "id"]
}`

type recordHeader struct {
	URI      string `json:"uri"`
	Source   string `json:"source"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	MIMEType string `json:"mime_type"`
	Modified string `json:"modified_at,omitempty"`
}

func headerFor(rec *provider.Record) recordHeader {
	h := recordHeader{
		URI:      rec.URI(),
		Source:   rec.SourceID,
		ID:       rec.ID,
		Title:    rec.Title,
		MIMEType: rec.MIMEType,
	}
	if !rec.ModifiedAt.IsZero() {
		h.Modified = rec.ModifiedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return h
}

// QueryTool lists record headers from one source with optional
// filters, sorting, and a limit.
type QueryTool struct {
	fetcher RecordFetcher
}

// NewQueryTool builds the records_query tool.
func NewQueryTool(f RecordFetcher) *QueryTool {
	return &QueryTool{fetcher: f}
}

func (t *QueryTool) Definition() Definition {
	return Definition{
		Name:        "records_query",
		Description: "Query records from a configured source. Returns record headers with their resource URIs.",
		InputSchema: json.RawMessage(queryToolSchema),
	}
}

func (t *QueryTool) Execute(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
	var params struct {
		Source  string            `json:"source"`
		Filters []provider.Filter `json:"filters"`
		Sort    *provider.Sort    `json:"sort"`
		Limit   int               `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", Execf("invalid arguments: %v", err)
		}
	}
	if params.Source == "" {
		return "", Execf("source is required; available sources: %s", sourceList(t.fetcher))
	}
	for i, f := range params.Filters {
		if !provider.ValidOp(f.Op) {
			return "", Execf("filters[%d]: unsupported op %q", i, f.Op)
		}
		if f.Field == "" {
			return "", Execf("filters[%d]: field is required", i)
		}
	}
	if params.Limit < 0 {
		return "", Execf("limit must be positive, got %d", params.Limit)
	}

	records, err := t.fetcher.FetchRecords(ctx, params.Source, provider.Query{
		Filters: params.Filters,
		Sort:    params.Sort,
		Limit:   params.Limit,
	})
	if errors.Is(err, provider.ErrSourceNotFound) {
		return "", Execf("unknown source %q; available sources: %s", params.Source, sourceList(t.fetcher))
	}
	if err != nil {
		return "", fmt.Errorf("query source %s: %w", params.Source, err)
	}

	headers := make([]recordHeader, 0, len(records))
	for i := range records {
		headers = append(headers, headerFor(&records[i]))
	}
	out, err := json.MarshalIndent(map[string]any{
		"count":   len(headers),
		"records": headers,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(out), nil
}

// GetTool reads one full record.
type GetTool struct {
	fetcher RecordFetcher
}

// NewGetTool builds the records_get tool.
func NewGetTool(f RecordFetcher) *GetTool {
	return &GetTool{fetcher: f}
}

func (t *GetTool) Definition() Definition {
	return Definition{
		Name:        "records_get",
		Description: "Read one record with its full content.",
		InputSchema: json.RawMessage(getToolSchema),
	}
}

func (t *GetTool) Execute(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
	var params struct {
		Source string `json:"source"`
		ID     string `json:"id"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", Execf("invalid arguments: %v", err)
		}
	}
	if params.Source == "" || params.ID == "" {
		return "", Execf("source and id are both required")
	}

	rec, err := t.fetcher.FetchRecord(ctx, params.Source, params.ID)
	if errors.Is(err, provider.ErrSourceNotFound) {
		return "", Execf("unknown source %q; available sources: %s", params.Source, sourceList(t.fetcher))
	}
	if errors.Is(err, provider.ErrRecordNotFound) {
		return "", Execf("record %s/%s does not exist", params.Source, params.ID)
	}
	if err != nil {
		return "", fmt.Errorf("fetch record %s/%s: %w", params.Source, params.ID, err)
	}

	out, err := json.MarshalIndent(struct {
		URI string `json:"uri"`
		*provider.Record
	}{URI: rec.URI(), Record: rec}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(out), nil
}

func sourceList(f RecordFetcher) string {
	infos := f.Sources()
	if len(infos) == 0 {
		return "(none configured)"
	}
	out := ""
	for i, info := range infos {
		if i > 0 {
			out += ", "
		}
		out += info.ID
	}
	return out
}
