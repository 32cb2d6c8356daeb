// ABOUTME: Handlers for the resources/* methods and list pagination.
// ABOUTME: Resource URIs map one-to-one onto provider records.

package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/carrelhq/carrel/internal/handler"
	"github.com/carrelhq/carrel/internal/jsonrpc"
	"github.com/carrelhq/carrel/internal/provider"
)

type listParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type uriParams struct {
	URI string `json:"uri"`
}

// encodeCursor packs a list offset into an opaque cursor.
func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// decodeCursor unpacks a cursor back into an offset. An empty cursor
// means the first page.
func decodeCursor(cursor string) (int, *jsonrpc.Error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, jsonrpc.NewInvalidParams("invalid parameters", []string{"cursor: not a valid cursor"})
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, jsonrpc.NewInvalidParams("invalid parameters", []string{"cursor: not a valid cursor"})
	}
	return offset, nil
}

// page slices items for one page and returns the cursor for the next,
// empty on the final page.
func page[T any](items []T, offset, size int) ([]T, string) {
	if offset >= len(items) {
		return []T{}, ""
	}
	end := offset + size
	if end >= len(items) {
		return items[offset:], ""
	}
	return items[offset:end], encodeCursor(end)
}

func (s *Server) handleResourcesList(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p listParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}
	offset, cerr := decodeCursor(p.Cursor)
	if cerr != nil {
		return nil, cerr
	}

	records, err := s.providers.FetchAllRecords(ctx)
	if err != nil {
		s.logger.Error("resource listing failed", "conn_id", connID, "error", err)
		return nil, jsonrpc.NewInternalError()
	}

	resources := make([]Resource, 0, len(records))
	for i := range records {
		rec := &records[i]
		resources = append(resources, Resource{
			URI:      rec.URI(),
			Name:     rec.Title,
			MimeType: rec.MIMEType,
		})
	}

	pageItems, next := page(resources, offset, s.pageSize)
	result := map[string]any{"resources": pageItems}
	if next != "" {
		result["nextCursor"] = next
	}
	return result, nil
}

func (s *Server) handleResourceTemplatesList(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p listParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}
	offset, cerr := decodeCursor(p.Cursor)
	if cerr != nil {
		return nil, cerr
	}

	infos := s.providers.Sources()
	templates := make([]ResourceTemplate, 0, len(infos))
	for _, info := range infos {
		templates = append(templates, ResourceTemplate{
			URITemplate: fmt.Sprintf("%s://%s/{record_id}", URIScheme, info.ID),
			Name:        info.ID,
			Description: info.Description,
		})
	}

	pageItems, next := page(templates, offset, s.pageSize)
	result := map[string]any{"resourceTemplates": pageItems}
	if next != "" {
		result["nextCursor"] = next
	}
	return result, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p uriParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, jsonrpc.NewInvalidParams("invalid parameters", []string{"uri: required"})
	}

	sourceID, recordID, err := ParseRecordURI(p.URI)
	if err != nil {
		return nil, jsonrpc.NewResourceNotFound(err.Error())
	}

	rec, err := s.providers.FetchRecord(ctx, sourceID, recordID)
	if errors.Is(err, provider.ErrSourceNotFound) {
		return nil, jsonrpc.NewResourceNotFound(fmt.Sprintf("unknown source: %s", sourceID))
	}
	if errors.Is(err, provider.ErrRecordNotFound) {
		return nil, jsonrpc.NewResourceNotFound(fmt.Sprintf("record not found: %s", p.URI))
	}
	if err != nil {
		s.logger.Error("resource read failed", "conn_id", connID, "uri", p.URI, "error", err)
		return nil, jsonrpc.NewInternalError()
	}

	contents := recordContents(rec)
	return map[string]any{"contents": contents}, nil
}

// recordContents converts one record into resources/read content
// items: the primary text or blob, plus a rendered HTML variant when
// the provider produced one.
func recordContents(rec *provider.Record) []ResourceContents {
	uri := rec.URI()
	var contents []ResourceContents
	switch {
	case len(rec.Blob) > 0:
		contents = append(contents, ResourceContents{
			URI:      uri,
			MimeType: rec.MIMEType,
			Blob:     base64.StdEncoding.EncodeToString(rec.Blob),
		})
	default:
		contents = append(contents, ResourceContents{
			URI:      uri,
			MimeType: rec.MIMEType,
			Text:     rec.Text,
		})
	}
	if rec.HTML != "" {
		contents = append(contents, ResourceContents{
			URI:      uri,
			MimeType: "text/html",
			Text:     rec.HTML,
		})
	}
	return contents
}

// validateSubscriptionURI rejects URIs a subscription could never
// match: wrong scheme, or a source that does not exist.
func (s *Server) validateSubscriptionURI(uri string) *jsonrpc.Error {
	sourceID, _, err := ParseRecordURI(uri)
	if err != nil {
		return jsonrpc.NewResourceNotFound(err.Error())
	}
	if _, ok := s.providers.Get(sourceID); !ok {
		return jsonrpc.NewResourceNotFound(fmt.Sprintf("unknown source: %s", sourceID))
	}
	return nil
}

func (s *Server) handleResourcesSubscribe(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p uriParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, jsonrpc.NewInvalidParams("invalid parameters", []string{"uri: required"})
	}
	if err := s.validateSubscriptionURI(p.URI); err != nil {
		return nil, err
	}

	sess := s.sessions.getOrCreate(connID)
	sess.Subscribe(p.URI)
	s.logger.Debug("resource subscribed", "conn_id", connID, "uri", p.URI)
	return struct{}{}, nil
}

func (s *Server) handleResourcesUnsubscribe(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p uriParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, jsonrpc.NewInvalidParams("invalid parameters", []string{"uri: required"})
	}
	if !strings.HasPrefix(p.URI, URIScheme+"://") {
		return nil, jsonrpc.NewResourceNotFound(fmt.Sprintf("Unsupported URI scheme: %s", p.URI))
	}

	sess := s.sessions.getOrCreate(connID)
	sess.Unsubscribe(p.URI)
	return struct{}{}, nil
}
