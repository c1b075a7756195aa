// Package ops implements the operator commands shared by the admin API, the
// MCP tools and the CLI. Each operation validates its input, talks to the
// store engine or the rule registry, and returns a JSON-ready output.
package ops

import (
	"strings"

	"github.com/hpungsan/logsift/internal/errors"
	"github.com/hpungsan/logsift/internal/event"
)

// Status values reported by queued operations.
const (
	StatusQueued = "queued"
)

// ValidateOrigin trims and normalizes an operator-supplied origin. Ports,
// case and unsafe characters are folded the same way ingest folds hosts, so
// "Shop.Example.com:443" addresses the same database as the access logs.
func ValidateOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", errors.NewInvalidRequest("origin is required")
	}
	norm := event.NormalizeOrigin(origin)
	if norm == event.UnknownOrigin && !strings.EqualFold(origin, event.UnknownOrigin) {
		return "", errors.NewInvalidRequest("origin must contain a host name")
	}
	return norm, nil
}
