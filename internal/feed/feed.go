// Package feed distributes committed booking events.  The durable event
// log is written by the store inside each conditional update; the feed
// hands those events to the local subscription router and, when several
// instances run, relays them to peers through a Broadcaster.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// Log is the durable, per-booking ordered event log.
type Log interface {
	Since(ctx context.Context, bookingID string, after uint64) ([]model.TransitionEvent, error)
}

// Dispatcher receives events for live delivery.  Dispatch must not block.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.TransitionEvent)
}

// Envelope is an event on the wire between instances.
type Envelope struct {
	Origin string                `json:"origin"`
	Event  model.TransitionEvent `json:"event"`
}

// Broadcaster relays envelopes between instances.  Listen blocks until
// ctx is done or the transport fails.
type Broadcaster interface {
	Broadcast(ctx context.Context, env Envelope) error
	Listen(ctx context.Context, handle func(Envelope)) error
}

const outboxSize = 1024

// Feed implements booking.Publisher.
type Feed struct {
	log      Log
	logger   *slog.Logger
	instance string

	mu    sync.RWMutex
	local Dispatcher

	bc     Broadcaster
	outbox chan Envelope
}

// New returns a Feed reading history from log.  bc may be nil for a
// single instance.
func New(log Log, bc Broadcaster, instance string, logger *slog.Logger) *Feed {
	f := &Feed{log: log, bc: bc, instance: instance, logger: logger}
	if bc != nil {
		f.outbox = make(chan Envelope, outboxSize)
	}
	return f
}

// Attach sets the local dispatcher.  Events published before Attach are
// only available through Since.
func (f *Feed) Attach(d Dispatcher) {
	f.mu.Lock()
	f.local = d
	f.mu.Unlock()
}

func (f *Feed) dispatch(ctx context.Context, ev model.TransitionEvent) {
	f.mu.RLock()
	d := f.local
	f.mu.RUnlock()
	if d != nil {
		d.Dispatch(ctx, ev)
	}
}

// Publish delivers a committed event to local subscribers and queues it
// for peers.  It never blocks: when the outbox is full the relay is
// skipped and peers recover the event from the log on the next one.
func (f *Feed) Publish(ctx context.Context, ev model.TransitionEvent) {
	f.dispatch(ctx, ev)
	if f.outbox == nil {
		return
	}
	select {
	case f.outbox <- Envelope{Origin: f.instance, Event: ev}:
	default:
		f.logger.Warn("feed relay outbox full, event not broadcast",
			"booking_id", ev.BookingID, "seq", ev.Seq)
	}
}

// Since returns the events of a booking after the given cursor.
func (f *Feed) Since(ctx context.Context, bookingID string, after uint64) ([]model.TransitionEvent, error) {
	return f.log.Since(ctx, bookingID, after)
}

// Run relays events between this instance and its peers until ctx is
// done.  Without a Broadcaster it returns immediately.
func (f *Feed) Run(ctx context.Context) error {
	if f.bc == nil {
		return nil
	}
	go f.send(ctx)
	return f.bc.Listen(ctx, func(env Envelope) {
		if env.Origin == f.instance {
			return
		}
		f.dispatch(ctx, env.Event)
	})
}

func (f *Feed) send(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-f.outbox:
			if err := f.bc.Broadcast(ctx, env); err != nil {
				f.logger.Warn("feed broadcast failed",
					"booking_id", env.Event.BookingID, "seq", env.Event.Seq, "error", err)
			}
		}
	}
}
