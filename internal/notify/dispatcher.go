package notify

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Deliverer sends records to one external channel.
type Deliverer interface {
	Name() string
	// Durable reports whether the channel keeps its own copy of delivered
	// files. Only durable channels make it safe to delete a file.
	Durable() bool
	Deliver(ctx context.Context, rec Record) error
}

// Dispatcher is the single consumer of a Queue. It fans each record out to
// every deliverer and applies the deletion policy of file records.
type Dispatcher struct {
	queue      *Queue
	deliverers []Deliverer
	timeout    time.Duration
	pause      time.Duration
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDeliveryTimeout bounds each Deliver call.
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithPause sleeps between records to respect chat rate limits.
func WithPause(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.pause = d }
}

// NewDispatcher creates a dispatcher reading from q.
func NewDispatcher(q *Queue, deliverers []Deliverer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:      q,
		deliverers: deliverers,
		timeout:    2 * time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes records until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info().Int("deliverers", len(d.deliverers)).Msg("notification dispatcher started")
	for {
		rec, err := d.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		d.Dispatch(ctx, rec)

		if d.pause > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.pause):
			}
		}
	}
}

// Drain delivers whatever is queued right now, then returns. Used at shutdown.
func (d *Dispatcher) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		rec, ok := d.queue.TryNext()
		if !ok {
			return
		}
		d.Dispatch(ctx, rec)
	}
}

// Dispatch delivers one record to every deliverer. A file record with
// DeleteAfter is removed only when at least one durable deliverer exists and
// all durable deliverers succeeded; otherwise the file stays on disk.
func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) {
	durable, durableFailed := 0, false

	for _, dl := range d.deliverers {
		dctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.deliver(dctx, dl, rec)
		cancel()

		if dl.Durable() {
			durable++
			if err != nil {
				durableFailed = true
			}
		}
		if err != nil {
			log.Error().Err(err).Str("deliverer", dl.Name()).Str("origin", rec.Origin).
				Str("record", rec.ID).Str("path", rec.Path).Msg("notification delivery failed")
		}
	}

	if !rec.IsFile() || !rec.DeleteAfter {
		return
	}
	if durable == 0 || durableFailed {
		log.Warn().Str("path", rec.Path).Msg("keeping file: not delivered to a durable channel")
		return
	}
	if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error().Err(err).Str("path", rec.Path).Msg("failed to delete delivered file")
		return
	}
	log.Info().Str("path", rec.Path).Msg("deleted delivered file")
}

// deliver isolates a deliverer panic to the record being delivered.
func (d *Dispatcher) deliver(ctx context.Context, dl Deliverer, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("deliverer", dl.Name()).Msg("deliverer panicked")
			err = errors.New("deliverer panicked")
		}
	}()
	return dl.Deliver(ctx, rec)
}
