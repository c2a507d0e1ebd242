// Package booking implements the booking lifecycle: the transition graph,
// who may drive each edge, and the commit of every change as a single
// conditional update followed by publication to the change feed.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/repository"
)

// Store is the durable booking store.  ConditionalUpdate is the only
// write path for an existing booking; it reports repository.ErrConflict
// when the mutation's expectations no longer hold.
type Store interface {
	Create(ctx context.Context, b model.Booking) error
	Get(ctx context.Context, id string) (model.Booking, error)
	ConditionalUpdate(ctx context.Context, id string, m repository.Mutation) (model.Booking, model.TransitionEvent, error)
	Query(ctx context.Context, f repository.Filter) ([]model.Booking, error)
}

// Publisher receives every committed event.  Publish must not block on
// slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev model.TransitionEvent)
}

// Machine applies lifecycle operations to bookings held in a Store.
type Machine struct {
	store Store
	feed  Publisher
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator replaces the UUID generator used by Create.
func WithIDGenerator(f func() string) Option {
	return func(m *Machine) { m.newID = f }
}

// NewMachine returns a Machine committing to store and publishing to feed.
func NewMachine(store Store, feed Publisher, log *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		store: store,
		feed:  feed,
		log:   log,
		now:   time.Now,
		newID: newUUID,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Now returns the machine's current time in UTC.
func (m *Machine) Now() time.Time { return m.now().UTC() }

// Evaluate decides whether actor may move b to the requested status and,
// if so, returns the conditional update that commits it.  It has no side
// effects.  Checks run in a fixed order: graph membership, role and
// participation, then the payment gate.
func Evaluate(b model.Booking, to model.Status, actor model.Actor, at time.Time) (repository.Mutation, error) {
	const op = "transition"
	if !to.Valid() {
		return repository.Mutation{}, newError(KindInvalidTransition, op, b.ID, "unknown status "+string(to))
	}
	if !ValidEdge(b.Status, to) {
		return repository.Mutation{}, newError(KindInvalidTransition, op, b.ID, string(b.Status)+" -> "+string(to))
	}
	if !Allowed(actor.Role, b.Status, to) {
		return repository.Mutation{}, newError(KindForbidden, op, b.ID, string(actor.Role)+" may not move "+string(b.Status)+" -> "+string(to))
	}

	mut := repository.Mutation{
		ExpectStatus: b.Status,
		// Pinning the payment status keeps a concurrent payment from
		// slipping past a cancellation without a refund.
		ExpectPayment: b.PaymentStatus,
		Status:        to,
		Kind:          model.EventTransition,
		Actor:         actor,
		At:            at,
	}

	switch actor.Role {
	case model.RoleCustomer:
		if b.CustomerID != actor.ID {
			return repository.Mutation{}, newError(KindForbidden, op, b.ID, "not the booking's customer")
		}
	case model.RoleProfessional:
		switch {
		case b.ProfessionalID == nil && b.Status == model.StatusPending && to == model.StatusAccepted:
			pid := actor.ID
			mut.ProfessionalID = &pid
			mut.ExpectUnassigned = true
		case b.Professional() != actor.ID:
			return repository.Mutation{}, newError(KindForbidden, op, b.ID, "not the assigned professional")
		}
	}

	if RequiresPayment(b.Status, to) && b.PaymentStatus != model.PaymentCompleted {
		return repository.Mutation{}, newError(KindPaymentRequired, op, b.ID, "payment status is "+string(b.PaymentStatus))
	}

	if to == model.StatusCancelled && b.PaymentStatus == model.PaymentCompleted {
		mut.PaymentStatus = model.PaymentRefunded
	}
	return mut, nil
}

// AttemptTransition moves booking id to the requested status on behalf of
// actor.  The event is handed to the feed before the call returns.  A
// stale read surfaces as Conflict and is not retried.
func (m *Machine) AttemptTransition(ctx context.Context, id string, to model.Status, actor model.Actor) (model.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, FromStore("transition", id, err)
	}
	mut, err := Evaluate(b, to, actor, m.Now())
	if err != nil {
		m.log.Debug("transition rejected",
			"booking_id", id, "from", b.Status, "to", to,
			"actor_id", actor.ID, "actor_role", actor.Role, "kind", KindOf(err))
		return model.Booking{}, err
	}
	return m.commit(ctx, "transition", id, mut)
}

// commit runs mut against the store and publishes its event.
func (m *Machine) commit(ctx context.Context, op, id string, mut repository.Mutation) (model.Booking, error) {
	next, ev, err := m.store.ConditionalUpdate(ctx, id, mut)
	if err != nil {
		return model.Booking{}, FromStore(op, id, err)
	}
	m.feed.Publish(ctx, ev)
	m.log.Info("booking updated",
		"op", op, "booking_id", id, "seq", ev.Seq, "kind", ev.Kind,
		"from", ev.PriorStatus, "to", ev.NewStatus, "payment_status", ev.PaymentStatus,
		"actor_id", ev.ActorID, "actor_role", ev.ActorRole)
	return next, nil
}

// Commit applies a mutation built outside the state machine, such as a
// payment update, with the same CAS-then-publish discipline.
func (m *Machine) Commit(ctx context.Context, op, id string, mut repository.Mutation) (model.Booking, error) {
	if mut.At.IsZero() {
		mut.At = m.Now()
	}
	return m.commit(ctx, op, id, mut)
}

// Get returns a booking the actor may view.
func (m *Machine) Get(ctx context.Context, id string, actor model.Actor) (model.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, FromStore("get", id, err)
	}
	if !CanView(b, actor) {
		return model.Booking{}, newError(KindForbidden, "get", id, "not a participant")
	}
	return b, nil
}

// Load returns a booking without an authorization check.  It is meant for
// internal callers such as the payment reconciler.
func (m *Machine) Load(ctx context.Context, id string) (model.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, FromStore("get", id, err)
	}
	return b, nil
}

// List returns the bookings visible to actor.  Customers and
// professionals are always scoped to themselves; admins may pass any
// filter.
func (m *Machine) List(ctx context.Context, actor model.Actor, f repository.Filter) ([]model.Booking, error) {
	switch actor.Role {
	case model.RoleCustomer:
		f.CustomerID, f.ProfessionalID = actor.ID, ""
	case model.RoleProfessional:
		f.CustomerID, f.ProfessionalID = "", actor.ID
	case model.RoleAdmin, model.RoleSystem:
	default:
		return nil, newError(KindForbidden, "list", "", "unknown role")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, newError(KindInvalidInput, "list", "", "unknown status "+string(f.Status))
	}
	out, err := m.store.Query(ctx, f)
	if err != nil {
		return nil, FromStore("list", "", err)
	}
	return out, nil
}

// Assign sets the professional of a pending or accepted booking.  The
// status is left unchanged; the event has kind assignment.
func (m *Machine) Assign(ctx context.Context, id, professionalID string, actor model.Actor) (model.Booking, error) {
	const op = "assign"
	if actor.Role != model.RoleAdmin {
		return model.Booking{}, newError(KindForbidden, op, id, "admin only")
	}
	if professionalID == "" {
		return model.Booking{}, newError(KindInvalidInput, op, id, "professional id is required")
	}
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, FromStore(op, id, err)
	}
	if b.Status != model.StatusPending && b.Status != model.StatusAccepted {
		return model.Booking{}, newError(KindInvalidTransition, op, id, "cannot assign a booking in status "+string(b.Status))
	}
	pid := professionalID
	return m.commit(ctx, op, id, repository.Mutation{
		ExpectStatus:   b.Status,
		ProfessionalID: &pid,
		Kind:           model.EventAssignment,
		Actor:          actor,
		At:             m.Now(),
	})
}

// OverridePaymentStatus lets an admin set the payment status directly.
// It never advances the booking status.
func (m *Machine) OverridePaymentStatus(ctx context.Context, id string, ps model.PaymentStatus, actor model.Actor) (model.Booking, error) {
	const op = "override_payment"
	if actor.Role != model.RoleAdmin {
		return model.Booking{}, newError(KindForbidden, op, id, "admin only")
	}
	if !ps.Valid() {
		return model.Booking{}, newError(KindInvalidInput, op, id, "unknown payment status "+string(ps))
	}
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, FromStore(op, id, err)
	}
	if b.PaymentStatus == ps {
		return b, nil
	}
	return m.commit(ctx, op, id, repository.Mutation{
		ExpectStatus:  b.Status,
		ExpectPayment: b.PaymentStatus,
		PaymentStatus: ps,
		Kind:          model.EventPayment,
		Actor:         actor,
		At:            m.Now(),
	})
}

// FromStore classifies a store error.  Unknown errors are wrapped
// unchanged so callers can still tell them apart from domain failures.
func FromStore(op, id string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, BookingID: id}
	case errors.Is(err, repository.ErrConflict):
		return &Error{Kind: KindConflict, Op: op, BookingID: id, Msg: "booking changed since it was read"}
	}
	return err
}
