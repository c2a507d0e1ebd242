// Package model holds the booking domain types shared by every layer.
package model

import "time"

// Status is the lifecycle state of a booking.  Values are stored verbatim
// in bookings.status and booking_events.{prior,new}_status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusOnTheWay   Status = "on_the_way"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is one of the known booking states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusOnTheWay, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentStatus tracks the money side of a booking.  It only changes
// through payment reconciliation, cancellation refunds or an explicit
// admin override.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Valid reports whether p is one of the known payment states.
func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// AddressSnapshot is the service address copied onto the booking when it
// is created.  Edits to the customer's saved addresses never reach an
// existing booking.
type AddressSnapshot struct {
	Label      string   `json:"label,omitempty"`
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	Country    string   `json:"country,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

// Booking is a scheduled engagement between a customer and a professional
// for a service.
//
// Fields:
//  ID               – immutable identifier (UUID).
//  CustomerID       – customer who requested the service.
//  ProfessionalID   – assigned professional; nil until assignment.
//  ServiceID        – catalogue service being booked.
//  Status           – lifecycle state, changed only by the state machine.
//  PaymentStatus    – payment state of the booking.
//  RequestedAt      – time the customer wants the service performed.
//  Address          – address snapshot taken at creation.
//  TotalAmountCents – total price in minor units, fixed at creation.
//  Currency         – ISO 4217 currency code of the total.
//  GatewayOrderID   – payment gateway order created for this booking.
//  GatewayPaymentID – gateway payment that completed the order.
//  Seq              – sequence number of the last committed mutation.
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp, never moves backwards.
type Booking struct {
	ID               string          `json:"id"`
	CustomerID       string          `json:"customer_id"`
	ProfessionalID   *string         `json:"professional_id"`
	ServiceID        string          `json:"service_id"`
	Status           Status          `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	RequestedAt      time.Time       `json:"requested_at"`
	Address          AddressSnapshot `json:"address"`
	TotalAmountCents int64           `json:"total_amount_cents"`
	Currency         string          `json:"currency"`
	GatewayOrderID   *string         `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty"`
	Seq              uint64          `json:"seq"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Professional returns the assigned professional id or "" when the
// booking is still unassigned.
func (b Booking) Professional() string {
	if b.ProfessionalID == nil {
		return ""
	}
	return *b.ProfessionalID
}
