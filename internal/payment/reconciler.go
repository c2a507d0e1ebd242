package payment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Krishnamurari7/urban-services-platform/internal/booking"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/repository"
)

// Alerter delivers operational alerts for manual follow-up.
type Alerter interface {
	Alert(ctx context.Context, a model.OpsAlert) error
}

// LogAlerter writes alerts to a logger.  It is the fallback when no
// broker is configured.
type LogAlerter struct {
	Log *slog.Logger
}

func (l LogAlerter) Alert(_ context.Context, a model.OpsAlert) error {
	l.Log.Error("ops alert",
		"alert", a.Kind, "booking_id", a.BookingID, "status", a.Status,
		"payment_status", a.PaymentStatus, "gateway_payment_id", a.GatewayPaymentID, "reason", a.Reason)
	return nil
}

// Result reports what a callback did.  Duplicate is true when the
// booking already reflected the callback and nothing was written.
type Result struct {
	Booking   model.Booking
	Duplicate bool
}

// Reconciler applies gateway callbacks to bookings.
type Reconciler struct {
	machine  *booking.Machine
	verifier *Verifier
	alerts   Alerter
	log      *slog.Logger
}

// NewReconciler wires a Reconciler.  alerts may be nil, in which case
// alerts only reach the log.
func NewReconciler(m *booking.Machine, v *Verifier, alerts Alerter, log *slog.Logger) *Reconciler {
	if alerts == nil {
		alerts = LogAlerter{Log: log}
	}
	return &Reconciler{machine: m, verifier: v, alerts: alerts, log: log}
}

// verify checks the signature and that the confirmation belongs to the
// booking's order.  Failures are security events.
func (r *Reconciler) verify(ctx context.Context, op string, c model.PaymentConfirmation) (model.Booking, error) {
	if err := r.verifier.Verify(c.GatewayOrderID, c.GatewayPaymentID, c.Signature); err != nil {
		r.log.Warn("payment signature rejected",
			"security", true, "op", op, "booking_id", c.BookingID,
			"gateway_order_id", c.GatewayOrderID, "scheme", r.verifier.Scheme(), "error", err)
		return model.Booking{}, &booking.Error{Kind: booking.KindInvalidSignature, Op: op, BookingID: c.BookingID, Err: err}
	}
	b, err := r.machine.Load(ctx, c.BookingID)
	if err != nil {
		return model.Booking{}, err
	}
	// The signature binds the order, not the booking, so the booking must
	// already carry that order.
	if b.GatewayOrderID == nil {
		r.log.Warn("payment for a booking without an order",
			"security", true, "op", op, "booking_id", c.BookingID, "gateway_order_id", c.GatewayOrderID)
		return model.Booking{}, &booking.Error{Kind: booking.KindInvalidSignature, Op: op, BookingID: c.BookingID, Msg: "booking has no gateway order"}
	}
	if *b.GatewayOrderID != c.GatewayOrderID {
		r.log.Warn("payment order mismatch",
			"security", true, "op", op, "booking_id", c.BookingID,
			"gateway_order_id", c.GatewayOrderID, "expected_order_id", *b.GatewayOrderID)
		return model.Booking{}, &booking.Error{Kind: booking.KindInvalidSignature, Op: op, BookingID: c.BookingID, Msg: "order does not belong to booking"}
	}
	return b, nil
}

func charged(p model.PaymentStatus) bool {
	return p == model.PaymentCompleted || p == model.PaymentRefunded
}

// Reconcile applies a payment confirmation.  It is safe to call any
// number of times with the same confirmation, in any order relative to
// other callbacks: only the first valid call writes.
//
// A confirmed payment on a pending booking advances it to accepted as the
// system actor.  If that step fails, the payment stays recorded and the
// error is PartialReconciliation.
func (r *Reconciler) Reconcile(ctx context.Context, c model.PaymentConfirmation) (Result, error) {
	const op = "reconcile"
	b, err := r.verify(ctx, op, c)
	if err != nil {
		return Result{}, err
	}
	if charged(b.PaymentStatus) {
		return r.duplicate(ctx, b, c), nil
	}

	target := model.PaymentCompleted
	if b.Status == model.StatusCancelled {
		// The charge landed after the booking was cancelled.
		target = model.PaymentRefunded
	}
	paymentID := c.GatewayPaymentID
	b, err = r.machine.Commit(ctx, op, b.ID, repository.Mutation{
		ExpectStatus:     b.Status,
		ExpectPayment:    b.PaymentStatus,
		PaymentStatus:    target,
		GatewayPaymentID: &paymentID,
		Kind:             model.EventPayment,
		Actor:            model.SystemActor,
	})
	if errors.Is(err, booking.ErrConflict) {
		// A concurrent delivery of the same confirmation may have won.
		cur, lerr := r.machine.Load(ctx, c.BookingID)
		if lerr == nil && charged(cur.PaymentStatus) {
			return r.duplicate(ctx, cur, c), nil
		}
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}
	r.log.Info("payment reconciled", "booking_id", b.ID, "gateway_payment_id", paymentID, "payment_status", b.PaymentStatus)

	switch b.Status {
	case model.StatusCancelled:
		return Result{Booking: b}, r.partial(ctx, model.AlertRefundRequired, b, c, "payment captured for a cancelled booking", nil)
	case model.StatusPending:
		next, err := r.machine.AttemptTransition(ctx, b.ID, model.StatusAccepted, model.SystemActor)
		if err != nil {
			cur, lerr := r.machine.Load(ctx, b.ID)
			if lerr == nil {
				b = cur
			}
			kind := model.AlertPartialReconciliation
			if b.Status == model.StatusCancelled {
				kind = model.AlertRefundRequired
			}
			return Result{Booking: b}, r.partial(ctx, kind, b, c, "status advance after payment failed", err)
		}
		b = next
	}
	return Result{Booking: b}, nil
}

func (r *Reconciler) duplicate(ctx context.Context, b model.Booking, c model.PaymentConfirmation) Result {
	if b.GatewayPaymentID != nil && *b.GatewayPaymentID != c.GatewayPaymentID {
		r.log.Warn("second payment for a paid booking",
			"booking_id", b.ID, "recorded_payment_id", *b.GatewayPaymentID, "gateway_payment_id", c.GatewayPaymentID)
		r.alert(ctx, model.OpsAlert{
			Kind:             model.AlertDuplicateCharge,
			BookingID:        b.ID,
			GatewayOrderID:   c.GatewayOrderID,
			GatewayPaymentID: c.GatewayPaymentID,
			Status:           b.Status,
			PaymentStatus:    b.PaymentStatus,
			Reason:           "booking already paid by " + *b.GatewayPaymentID,
		})
	} else {
		r.log.Debug("duplicate payment confirmation", "booking_id", b.ID, "gateway_payment_id", c.GatewayPaymentID)
	}
	return Result{Booking: b, Duplicate: true}
}

// partial logs, raises an alert and returns the PartialReconciliation
// error for b.
func (r *Reconciler) partial(ctx context.Context, kind model.AlertKind, b model.Booking, c model.PaymentConfirmation, reason string, cause error) error {
	a := model.OpsAlert{
		Kind:             kind,
		BookingID:        b.ID,
		GatewayOrderID:   c.GatewayOrderID,
		GatewayPaymentID: c.GatewayPaymentID,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		Reason:           reason,
	}
	if cause != nil {
		a.Reason += ": " + cause.Error()
	}
	r.log.Error("partial reconciliation", "booking_id", b.ID, "alert", kind, "reason", a.Reason)
	r.alert(ctx, a)
	return &booking.Error{Kind: booking.KindPartialReconciliation, Op: "reconcile", BookingID: b.ID, Msg: reason, Err: cause}
}

func (r *Reconciler) alert(ctx context.Context, a model.OpsAlert) {
	if a.At.IsZero() {
		a.At = r.machine.Now()
	}
	if err := r.alerts.Alert(ctx, a); err != nil {
		r.log.Error("ops alert not delivered", "alert", a.Kind, "booking_id", a.BookingID, "error", err)
	}
}

// Fail records a signed payment failure.  Only a pending payment moves to
// failed; a failure arriving after a success is ignored, so callbacks may
// arrive in any order.
func (r *Reconciler) Fail(ctx context.Context, c model.PaymentConfirmation) (Result, error) {
	const op = "payment_failed"
	b, err := r.verify(ctx, op, c)
	if err != nil {
		return Result{}, err
	}
	if b.PaymentStatus != model.PaymentPending {
		r.log.Debug("payment failure ignored", "booking_id", b.ID, "payment_status", b.PaymentStatus)
		return Result{Booking: b, Duplicate: true}, nil
	}
	b, err = r.machine.Commit(ctx, op, b.ID, repository.Mutation{
		ExpectStatus:  b.Status,
		ExpectPayment: model.PaymentPending,
		PaymentStatus: model.PaymentFailed,
		Kind:          model.EventPayment,
		Actor:         model.SystemActor,
	})
	if errors.Is(err, booking.ErrConflict) {
		cur, lerr := r.machine.Load(ctx, c.BookingID)
		if lerr == nil && cur.PaymentStatus != model.PaymentPending {
			return Result{Booking: cur, Duplicate: true}, nil
		}
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}
	r.log.Info("payment failed", "booking_id", b.ID, "gateway_order_id", c.GatewayOrderID)
	return Result{Booking: b}, nil
}

// Abandon records that the customer dismissed the checkout.  Nothing is
// written to the booking.
func (r *Reconciler) Abandon(ctx context.Context, bookingID string, actor model.Actor) error {
	b, err := r.machine.Get(ctx, bookingID, actor)
	if err != nil {
		return err
	}
	if actor.Role != model.RoleCustomer {
		return &booking.Error{Kind: booking.KindForbidden, Op: "abandon_checkout", BookingID: bookingID, Msg: "customer only"}
	}
	r.log.Info("checkout abandoned", "booking_id", b.ID, "actor_id", actor.ID, "payment_status", b.PaymentStatus)
	a := model.OpsAlert{
		Kind:          model.AlertCheckoutAbandoned,
		BookingID:     b.ID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		ActorID:       actor.ID,
	}
	if b.GatewayOrderID != nil {
		a.GatewayOrderID = *b.GatewayOrderID
	}
	r.alert(ctx, a)
	return nil
}
