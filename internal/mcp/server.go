// Package mcp exposes the operator commands as MCP tools over stdio.
package mcp

import (
	"context"
	"os"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/logsift/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"site_snapshot": {
		def:     snapshotToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSnapshot },
	},
	"site_rotate": {
		def:     rotateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRotate },
	},
	"site_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"site_files": {
		def:     filesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFiles },
	},
	"rules_reload": {
		def:     reloadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReload },
	},
	"service_health": {
		def:     healthToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHealth },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the operator tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(h *Handlers, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		cfg.ServiceName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves s over stdio until ctx is done or stdin closes. Logs must go
// to stderr while it runs; stdout carries the protocol.
func Run(ctx context.Context, s *server.MCPServer) error {
	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}
