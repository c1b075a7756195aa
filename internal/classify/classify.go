// Package classify decides how important an access-log event is.
package classify

import (
	"fmt"
	"strings"

	"github.com/hpungsan/logsift/internal/event"
	"github.com/hpungsan/logsift/internal/rules"
)

// Importance is the tier an event falls into.
type Importance int

const (
	None Importance = iota
	Important
	VeryImportant
)

// String implements fmt.Stringer.
func (i Importance) String() string {
	switch i {
	case Important:
		return "important"
	case VeryImportant:
		return "very_important"
	default:
		return "none"
	}
}

// PreviewMarker prefixes previews of very-important events.
const PreviewMarker = "🆕"

// Verdict is the classifier result. Preview is set only for VeryImportant.
type Verdict struct {
	Importance Importance
	Preview    string
}

// Keep reports whether the event should be persisted.
func (v Verdict) Keep() bool {
	return v.Importance != None
}

// Classify evaluates ev against rs. The very-important tier is checked first
// and wins when both tiers match.
func Classify(ev *event.Event, rs *rules.RuleSet) Verdict {
	uri := strings.ToLower(ev.URI)

	if rs.IsVeryImportantMethod(ev.Method) && rs.MatchVeryImportantPath(uri) {
		return Verdict{Importance: VeryImportant, Preview: Preview(ev)}
	}
	if rs.IsImportantMethod(ev.Method) && rs.MatchImportantPath(uri) {
		return Verdict{Importance: Important}
	}
	return Verdict{Importance: None}
}

// Preview renders the short plain-text summary sent with very-important events.
// Sinks escape it for their own markup.
func Preview(ev *event.Event) string {
	return fmt.Sprintf("%s %d %s %s\nIP: %s", PreviewMarker, ev.Status, ev.Method, ev.URI, ev.RemoteIP)
}
