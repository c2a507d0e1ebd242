// Package subscription routes booking events to live observers.
//
// A Subscription selects events either for one booking or for everything
// a user takes part in.  The Router keeps a per-booking cursor for each
// subscription and only ever hands a sink the event directly after that
// cursor: duplicates are dropped and gaps are filled from the event log
// before delivery, so observers see every sequence number exactly once and
// in order no matter when they joined or how events reached this
// instance.
//
// Thread safety: all exported methods are safe for concurrent use.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Krishnamurari7/urban-services-platform/internal/feed"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/repository"
)

// catchUpLimit bounds how many bookings a user subscription replays
// when it opens.
const catchUpLimit = 100

// Filter selects events.  Exactly one of BookingID or UserID is set.
type Filter struct {
	BookingID string
	UserID    string
	Role      model.Role
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev model.TransitionEvent) bool {
	if f.BookingID != "" {
		return ev.BookingID == f.BookingID
	}
	switch f.Role {
	case model.RoleCustomer:
		return ev.CustomerID == f.UserID
	case model.RoleProfessional:
		return ev.ProfessionalID == f.UserID
	case model.RoleAdmin:
		return true
	}
	return false
}

func (f Filter) valid() bool {
	if f.BookingID != "" {
		return f.UserID == ""
	}
	return f.UserID != "" && f.Role.Valid()
}

// Sink receives live events.  Deliver must not block; an error marks the
// sink dead and ends the subscription.
type Sink interface {
	Deliver(ev model.TransitionEvent) error
}

// Catalog lists the bookings a user subscription replays on open.
type Catalog interface {
	Query(ctx context.Context, f repository.Filter) ([]model.Booking, error)
}

// ErrInvalidFilter is returned by Open for a malformed filter.
var ErrInvalidFilter = errors.New("subscription: filter needs a booking id or a user and role")

// Subscription is one observer's registration.
type Subscription struct {
	ID     string
	Filter Filter

	sink Sink
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	live    bool
	closed  bool
	cursors map[string]uint64
	pending []model.TransitionEvent
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cursor returns the last sequence number handed out for a booking.
func (s *Subscription) Cursor(bookingID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[bookingID]
}

// Router fans events out to subscriptions.
type Router struct {
	log     feed.Log
	catalog Catalog
	logger  *slog.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewRouter returns a Router reading history from log.  catalog is used
// for user subscriptions and may be nil if only booking subscriptions
// are opened.
func NewRouter(log feed.Log, catalog Catalog, logger *slog.Logger) *Router {
	return &Router{log: log, catalog: catalog, logger: logger, subs: make(map[string]*Subscription)}
}

// Len returns the number of live subscriptions.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Open registers a subscription and returns it with its catch-up
// backlog: every matching event after the supplied cursors up to the
// moment the subscription went live.  Later events go to sink.  The
// caller must hand the backlog to the observer before anything the sink
// receives.
//
// Attachment happens before the catch-up read, and events that arrive
// meanwhile are held back and merged through the cursors, so nothing
// published during Open is lost or repeated.
func (r *Router) Open(ctx context.Context, f Filter, cursors map[string]uint64, sink Sink) (*Subscription, []model.TransitionEvent, error) {
	if !f.valid() {
		return nil, nil, ErrInvalidFilter
	}
	sub := &Subscription{
		ID:      uuid.NewString(),
		Filter:  f,
		sink:    sink,
		done:    make(chan struct{}),
		cursors: make(map[string]uint64, len(cursors)),
	}
	for id, c := range cursors {
		sub.cursors[id] = c
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	history, err := r.catchUp(ctx, sub)
	if err != nil {
		r.Close(sub)
		return nil, nil, err
	}

	var backlog []model.TransitionEvent
	emit := func(ev model.TransitionEvent) error {
		backlog = append(backlog, ev)
		return nil
	}

	sub.mu.Lock()
	// Events dispatched during the catch-up read queued up behind the
	// history.  Once live is set the sink sees only what follows the
	// backlog.
	if err := r.settle(ctx, sub, history, emit); err != nil {
		sub.mu.Unlock()
		r.Close(sub)
		return nil, nil, err
	}
	sub.live = true
	sub.mu.Unlock()

	r.logger.Debug("subscription opened",
		"subscription_id", sub.ID, "booking_id", f.BookingID, "user_id", f.UserID,
		"role", f.Role, "backlog", len(backlog))
	return sub, backlog, nil
}

// catchUp reads the history the subscription is missing.
func (r *Router) catchUp(ctx context.Context, sub *Subscription) ([]model.TransitionEvent, error) {
	f := sub.Filter
	if f.BookingID != "" {
		return r.log.Since(ctx, f.BookingID, sub.Cursor(f.BookingID))
	}
	if r.catalog == nil {
		return nil, nil
	}
	q := repository.Filter{Limit: catchUpLimit}
	switch f.Role {
	case model.RoleCustomer:
		q.CustomerID = f.UserID
	case model.RoleProfessional:
		q.ProfessionalID = f.UserID
	}
	bookings, err := r.catalog.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []model.TransitionEvent
	for _, b := range bookings {
		evs, err := r.log.Since(ctx, b.ID, sub.Cursor(b.ID))
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

// fetch reads each booking's log after its cursor.
func (r *Router) fetch(ctx context.Context, after map[string]uint64) ([]model.TransitionEvent, error) {
	var out []model.TransitionEvent
	for id, cur := range after {
		evs, err := r.log.Since(ctx, id, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

var (
	// errGap means ev is ahead of the cursor and the events between are
	// not at hand.
	errGap = errors.New("subscription: event log is missing events")
	// errClosed means the subscription ended while its lock was released.
	errClosed = errors.New("subscription: closed")
)

// fillTimeout bounds the log read made to close a gap found by Dispatch.
const fillTimeout = 10 * time.Second

// advance hands ev to emit if it is the next event for its booking.
// Events at or below the cursor are dropped and events past cur+1 return
// errGap.  sub.mu must be held.
func (r *Router) advance(sub *Subscription, ev model.TransitionEvent, emit func(model.TransitionEvent) error) error {
	if !sub.Filter.Matches(ev) {
		return nil
	}
	cur := sub.cursors[ev.BookingID]
	if ev.Seq <= cur {
		return nil
	}
	if ev.Seq > cur+1 {
		return errGap
	}
	if err := emit(ev); err != nil {
		return err
	}
	sub.cursors[ev.BookingID] = ev.Seq
	return nil
}

// settle drains known events and the pending queue through advance until
// no gap is left.  Events in known must apply without a gap.  Queued
// events that skip ahead trigger a log read, made with sub.mu released;
// anything queued during that read gets the same treatment in the next
// round.  sub.mu must be held and sub.live false; settle returns with
// sub.mu held.
func (r *Router) settle(ctx context.Context, sub *Subscription, known []model.TransitionEvent, emit func(model.TransitionEvent) error) error {
	for {
		queued := sub.pending
		sub.pending = nil
		for _, ev := range known {
			if err := r.advance(sub, ev, emit); err != nil {
				return err
			}
		}
		var retry []model.TransitionEvent
		for _, ev := range queued {
			err := r.advance(sub, ev, emit)
			if errors.Is(err, errGap) {
				retry = append(retry, ev)
				continue
			}
			if err != nil {
				return err
			}
		}
		if len(retry) == 0 {
			return nil
		}

		// Only settle moves the cursors while the subscription is not live.
		after := make(map[string]uint64)
		for _, ev := range retry {
			after[ev.BookingID] = sub.cursors[ev.BookingID]
		}
		sub.mu.Unlock()
		fetched, err := r.fetch(ctx, after)
		sub.mu.Lock()
		if err != nil {
			return err
		}
		if sub.closed {
			return errClosed
		}
		// Every retried event committed before the read, so the log now
		// holds what precedes it.
		known = append(fetched, retry...)
	}
}

// Dispatch delivers ev to every matching live subscription.  It
// implements feed.Dispatcher.
//
// Dispatch runs on the publisher's goroutine, for local commits the
// request that committed ev, and never reads the log.  An event that
// skips ahead of a subscription's cursor stops live delivery to it and
// leaves the read to fill; events dispatched in the meantime queue up.
func (r *Router) Dispatch(ctx context.Context, ev model.TransitionEvent) {
	r.mu.RLock()
	targets := make([]*Subscription, 0, 4)
	for _, s := range r.subs {
		if s.Filter.Matches(ev) {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		if !s.live {
			s.pending = append(s.pending, ev)
			s.mu.Unlock()
			continue
		}
		err := r.advance(s, ev, s.sink.Deliver)
		if errors.Is(err, errGap) {
			s.live = false
			s.pending = append(s.pending, ev)
			s.mu.Unlock()
			go r.fill(s)
			continue
		}
		s.mu.Unlock()
		if err != nil {
			r.drop(s, ev, err)
		}
	}
}

// fill closes a gap found by Dispatch and puts the subscription back
// live.
func (r *Router) fill(s *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), fillTimeout)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	err := r.settle(ctx, s, nil, s.sink.Deliver)
	if err == nil {
		s.live = true
	}
	s.mu.Unlock()
	if err != nil && !errors.Is(err, errClosed) {
		r.drop(s, model.TransitionEvent{}, err)
	}
}

func (r *Router) drop(s *Subscription, ev model.TransitionEvent, err error) {
	r.logger.Info("subscription dropped",
		"subscription_id", s.ID, "booking_id", ev.BookingID, "seq", ev.Seq, "reason", err)
	r.Close(s)
}

// Close ends a subscription.  It is idempotent.
func (r *Router) Close(sub *Subscription) {
	r.mu.Lock()
	delete(r.subs, sub.ID)
	r.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.pending = nil
	sub.mu.Unlock()
	sub.once.Do(func() { close(sub.done) })
}

// ErrSlowConsumer is returned by ChanSink when its buffer is full.
var ErrSlowConsumer = errors.New("subscription: consumer too slow")

// ChanSink is a Sink backed by a buffered channel.  A full buffer counts
// as a dead consumer.
type ChanSink struct {
	C chan model.TransitionEvent
}

// NewChanSink returns a ChanSink buffering up to size events.
func NewChanSink(size int) *ChanSink {
	if size < 1 {
		size = 1
	}
	return &ChanSink{C: make(chan model.TransitionEvent, size)}
}

func (c *ChanSink) Deliver(ev model.TransitionEvent) error {
	select {
	case c.C <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}
