package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogDeliverer writes every record to the process log.
type LogDeliverer struct{}

// Name implements Deliverer.
func (LogDeliverer) Name() string { return "log" }

// Durable implements Deliverer.
func (LogDeliverer) Durable() bool { return false }

// Deliver implements Deliverer.
func (LogDeliverer) Deliver(_ context.Context, rec Record) error {
	e := log.Info().Str("record", rec.ID).Str("kind", string(rec.Kind)).Str("origin", rec.Origin)
	if rec.IsFile() {
		e = e.Str("path", rec.Path).Str("reason", rec.Reason).Bool("delete_after", rec.DeleteAfter)
	}
	e.Msg("notification")
	return nil
}
