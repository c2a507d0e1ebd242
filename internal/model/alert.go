package model

import "time"

// AlertKind names an operational condition that needs a human.
type AlertKind string

const (
	// AlertPartialReconciliation: payment recorded, status advance failed.
	AlertPartialReconciliation AlertKind = "partial_reconciliation"
	// AlertRefundRequired: a charge landed on a cancelled booking.
	AlertRefundRequired AlertKind = "refund_required"
	// AlertDuplicateCharge: a second gateway payment for a paid booking.
	AlertDuplicateCharge AlertKind = "duplicate_charge"
	// AlertCheckoutAbandoned: the customer dismissed the checkout.
	AlertCheckoutAbandoned AlertKind = "checkout_abandoned"
)

// OpsAlert is the message published on the operational channel.
type OpsAlert struct {
	Kind             AlertKind     `json:"kind"`
	BookingID        string        `json:"booking_id"`
	GatewayOrderID   string        `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	Status           Status        `json:"status,omitempty"`
	PaymentStatus    PaymentStatus `json:"payment_status,omitempty"`
	ActorID          string        `json:"actor_id,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	At               time.Time     `json:"at"`
}
