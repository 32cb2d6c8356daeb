// ABOUTME: Handlers for tools/list and tools/call with progress reporting.
// ABOUTME: Tool-logic failures stay in-band; infrastructure failures become -32002.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carrelhq/carrel/internal/handler"
	"github.com/carrelhq/carrel/internal/jsonrpc"
	"github.com/carrelhq/carrel/internal/tools"
)

type callToolParams struct {
	Name          string          `json:"name"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	ProgressToken json.RawMessage `json:"progressToken,omitempty"`
}

func (s *Server) handleToolsList(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p listParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}
	offset, cerr := decodeCursor(p.Cursor)
	if cerr != nil {
		return nil, cerr
	}

	defs := s.tools.Definitions()
	pageItems, next := page(defs, offset, s.pageSize)
	result := map[string]any{"tools": pageItems}
	if next != "" {
		result["nextCursor"] = next
	}
	return result, nil
}

func (s *Server) handleToolsCall(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p callToolParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var v handler.Violations
	if p.Name == "" {
		v.Addf("name: required")
	}
	if len(p.Arguments) > 0 && !json.Valid(p.Arguments) {
		v.Addf("arguments: must be a JSON object")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	exec, ok := s.tools.Get(p.Name)
	if !ok {
		return nil, jsonrpc.NewInvalidParams("invalid parameters",
			[]string{fmt.Sprintf("name: unknown tool %q", p.Name)})
	}

	progress := s.progressReporter(ctx, connID, p.ProgressToken)

	s.logger.Debug("tools/call", "conn_id", connID, "tool", p.Name)
	output, err := exec.Execute(ctx, p.Arguments, progress)

	var execErr *tools.ExecError
	if errors.As(err, &execErr) {
		// The tool's own logic failed. Report in-band so the caller can
		// read the message and adjust its arguments.
		return CallToolResult{
			Content: []Content{TextContent(execErr.Message)},
			IsError: true,
		}, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, jsonrpc.NewToolExecutionError(fmt.Sprintf("tool %s timed out", p.Name))
	}
	if err != nil {
		s.logger.Error("tool execution failed",
			"conn_id", connID,
			"tool", p.Name,
			"error", err)
		return nil, jsonrpc.NewToolExecutionError(fmt.Sprintf("tool %s failed", p.Name))
	}

	return CallToolResult{Content: []Content{TextContent(output)}}, nil
}

// progressReporter returns the progress callback for one call. Without
// a progressToken it reports nowhere; with one, each report becomes a
// notifications/progress to the calling connection.
func (s *Server) progressReporter(ctx context.Context, connID string, token json.RawMessage) tools.ProgressFunc {
	if len(token) == 0 || string(token) == "null" {
		return nil
	}
	return func(progress, total float64) {
		params := map[string]any{
			"progressToken": token,
			"progress":      progress,
		}
		if total > 0 {
			params["total"] = total
		}
		s.send(ctx, connID, jsonrpc.NewNotification(NotifProgress, params))
	}
}
