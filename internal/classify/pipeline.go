package classify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/logsift/internal/event"
	"github.com/hpungsan/logsift/internal/rules"
)

// Writer accepts classified events for persistence. *store.Engine implements it.
type Writer interface {
	Write(ctx context.Context, ev *event.Event, veryImportant bool, preview string) error
}

// Pipeline turns raw ingest lines into store writes: parse, look up the
// origin's rules, classify, and forward only events that matched a tier.
type Pipeline struct {
	rules  *rules.Registry
	writer Writer
}

// NewPipeline wires a rule registry to a writer.
func NewPipeline(reg *rules.Registry, w Writer) *Pipeline {
	return &Pipeline{rules: reg, writer: w}
}

// HandleLine processes one framed log line. Malformed lines return an
// INVALID_EVENT error; unimportant events are dropped and return nil.
func (p *Pipeline) HandleLine(ctx context.Context, line []byte) error {
	ev, err := event.Parse(line)
	if err != nil {
		return err
	}

	verdict := Classify(ev, p.rules.Get(ev.Origin))
	switch verdict.Importance {
	case VeryImportant:
		log.Info().Str("origin", ev.Origin).Int("status", ev.Status).Str("uri", ev.URI).Msg("very important request")
	case Important:
		log.Debug().Str("origin", ev.Origin).Str("method", ev.Method).Msg("important request")
	default:
		return nil
	}

	return p.writer.Write(ctx, ev, verdict.Importance == VeryImportant, verdict.Preview)
}
