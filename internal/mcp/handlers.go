package mcp

import (
	"context"
	stderrors "errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/logsift/internal/errors"
	"github.com/hpungsan/logsift/internal/ops"
	"github.com/hpungsan/logsift/internal/rules"
	"github.com/hpungsan/logsift/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	engine   *store.Engine
	registry *rules.Registry
	started  time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *store.Engine, reg *rules.Registry, started time.Time) *Handlers {
	return &Handlers{engine: eng, registry: reg, started: started}
}

// Request types for each tool

// OriginRequest represents the arguments for site_snapshot and site_rotate.
type OriginRequest struct {
	Origin string `json:"origin"`
}

// StatsRequest represents the arguments for site_stats.
type StatsRequest struct {
	Strict bool `json:"strict,omitempty"`
}

// FilesRequest represents the arguments for site_files.
type FilesRequest struct {
	Origin string `json:"origin,omitempty"`
	Counts bool   `json:"counts,omitempty"`
}

// Handler implementations

// HandleSnapshot handles the site_snapshot tool call.
func (h *Handlers) HandleSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[OriginRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Snapshot(ctx, h.engine, ops.SnapshotInput{Origin: input.Origin})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRotate handles the site_rotate tool call.
func (h *Handlers) HandleRotate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[OriginRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Rotate(ctx, h.engine, ops.RotateInput{Origin: input.Origin})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStats handles the site_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StatsRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Stats(ctx, h.engine, ops.StatsInput{Strict: input.Strict})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFiles handles the site_files tool call.
func (h *Handlers) HandleFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FilesRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Files(h.engine.DataDir(), ops.FilesInput{Origin: input.Origin, Counts: input.Counts})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReload handles the rules_reload tool call.
func (h *Handlers) HandleReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ReloadRules(h.registry)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHealth handles the service_health tool call.
func (h *Handlers) HandleHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.Health(h.engine, h.registry, h.started))
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to prevent leaking file paths.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var lErr *errors.LogsiftError
	if stderrors.As(err, &lErr) {
		message := lErr.Message
		if lErr.Code != errors.ErrInternal && err != error(lErr) {
			// Keep the wrapping context, e.g. "origin a.com: ...".
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    lErr.Code,
			"message": message,
			"status":  lErr.Status,
		}
		if lErr.Code != errors.ErrInternal && lErr.Details != nil {
			errorObj["details"] = lErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
