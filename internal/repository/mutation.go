package repository

import (
	"time"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// Mutation describes one compare-and-swap against a booking row.  The
// Expect* fields form the comparison; the remaining fields are the new
// values, where a zero value (or nil pointer) leaves the column as is.
//
// Every successful mutation increments the booking's sequence number by
// exactly one and appends one event carrying that number, in the same
// atomic step.
type Mutation struct {
	// ExpectStatus must equal the booking's current status.
	ExpectStatus model.Status
	// ExpectPayment, when set, must equal the current payment status.
	ExpectPayment model.PaymentStatus
	// ExpectUnassigned requires professional_id to be NULL.
	ExpectUnassigned bool

	Status           model.Status
	PaymentStatus    model.PaymentStatus
	ProfessionalID   *string
	GatewayPaymentID *string

	Kind  model.EventKind
	Actor model.Actor
	At    time.Time
}

// apply returns b with the mutation's new values written into it and the
// sequence advanced.  It does not check the expectations.
func (m Mutation) apply(b model.Booking) model.Booking {
	if m.Status != "" {
		b.Status = m.Status
	}
	if m.PaymentStatus != "" {
		b.PaymentStatus = m.PaymentStatus
	}
	if m.ProfessionalID != nil {
		pid := *m.ProfessionalID
		b.ProfessionalID = &pid
	}
	if m.GatewayPaymentID != nil {
		gid := *m.GatewayPaymentID
		b.GatewayPaymentID = &gid
	}
	if m.At.After(b.UpdatedAt) {
		b.UpdatedAt = m.At
	}
	b.Seq++
	return b
}

// matches reports whether b satisfies the mutation's expectations.
func (m Mutation) matches(b model.Booking) bool {
	if b.Status != m.ExpectStatus {
		return false
	}
	if m.ExpectPayment != "" && b.PaymentStatus != m.ExpectPayment {
		return false
	}
	if m.ExpectUnassigned && b.ProfessionalID != nil {
		return false
	}
	return true
}

// eventFor builds the event recorded for a mutation that moved a booking
// from prior to next.
func (m Mutation) eventFor(prior, next model.Booking) model.TransitionEvent {
	return model.TransitionEvent{
		BookingID:      next.ID,
		Seq:            next.Seq,
		Kind:           m.Kind,
		PriorStatus:    prior.Status,
		NewStatus:      next.Status,
		PaymentStatus:  next.PaymentStatus,
		ActorID:        m.Actor.ID,
		ActorRole:      m.Actor.Role,
		CustomerID:     next.CustomerID,
		ProfessionalID: next.Professional(),
		OccurredAt:     m.At.UTC(),
	}
}

// Filter selects bookings for Query.  Empty fields do not constrain the
// result.  Limit defaults to 20 and is capped at 100.
type Filter struct {
	CustomerID     string
	ProfessionalID string
	Status         model.Status
	Limit          int
	Offset         int
}

// normalized returns f with Limit and Offset clamped to sane values.
func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
