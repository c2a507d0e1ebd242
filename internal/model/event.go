package model

import "time"

// EventKind classifies what a committed booking mutation changed.
type EventKind string

const (
	// EventTransition is a state machine status change.
	EventTransition EventKind = "transition"
	// EventPayment is a payment status change with status unchanged.
	EventPayment EventKind = "payment"
	// EventAssignment records a professional being assigned.
	EventAssignment EventKind = "assignment"
)

// TransitionEvent is the immutable record of one committed booking
// mutation.  Seq is assigned by the store in the same conditional update
// that committed the mutation, so within a booking the numbers start at 1
// and have no gaps.  CustomerID and ProfessionalID are copied from the
// booking after the mutation so user-scoped subscribers can be matched
// without another read.
type TransitionEvent struct {
	BookingID      string        `json:"booking_id"`
	Seq            uint64        `json:"seq"`
	Kind           EventKind     `json:"kind"`
	PriorStatus    Status        `json:"prior_status"`
	NewStatus      Status        `json:"new_status"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	ActorID        string        `json:"actor_id"`
	ActorRole      Role          `json:"actor_role"`
	CustomerID     string        `json:"customer_id"`
	ProfessionalID string        `json:"professional_id,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// PaymentConfirmation is the inbound claim from the payment gateway that
// an order was paid.  Signature covers GatewayOrderID and
// GatewayPaymentID under the configured signing scheme.
type PaymentConfirmation struct {
	BookingID        string `json:"booking_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}
