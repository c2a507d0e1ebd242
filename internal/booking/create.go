package booking

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// NewBooking is the customer's booking request.
type NewBooking struct {
	ServiceID        string                `json:"service_id"`
	RequestedAt      time.Time             `json:"requested_at"`
	Address          model.AddressSnapshot `json:"address"`
	TotalAmountCents int64                 `json:"total_amount_cents"`
	Currency         string                `json:"currency"`
	GatewayOrderID   string                `json:"gateway_order_id,omitempty"`
}

func newUUID() string { return uuid.NewString() }

func (n NewBooking) validate(now time.Time) string {
	switch {
	case strings.TrimSpace(n.ServiceID) == "":
		return "service_id is required"
	case n.RequestedAt.IsZero():
		return "requested_at is required"
	case !n.RequestedAt.After(now):
		return "requested_at must be in the future"
	case n.TotalAmountCents < 0:
		return "total_amount_cents must not be negative"
	case len(strings.TrimSpace(n.Currency)) != 3:
		return "currency must be a 3-letter code"
	case strings.TrimSpace(n.Address.Line1) == "" || strings.TrimSpace(n.Address.City) == "":
		return "address line1 and city are required"
	case strings.Contains(n.GatewayOrderID, "|"):
		return "gateway_order_id must not contain '|'"
	}
	return ""
}

// Create stores a new pending booking for the calling customer.  The
// address is copied by value so later edits elsewhere cannot reach it.
// Creation publishes no event; a booking's feed starts at its first
// mutation.
func (m *Machine) Create(ctx context.Context, actor model.Actor, n NewBooking) (model.Booking, error) {
	const op = "create"
	if actor.Role != model.RoleCustomer {
		return model.Booking{}, newError(KindForbidden, op, "", "only customers create bookings")
	}
	now := m.Now()
	if msg := n.validate(now); msg != "" {
		return model.Booking{}, newError(KindInvalidInput, op, "", msg)
	}

	b := model.Booking{
		ID:               m.newID(),
		CustomerID:       actor.ID,
		ServiceID:        strings.TrimSpace(n.ServiceID),
		Status:           model.StatusPending,
		PaymentStatus:    model.PaymentPending,
		RequestedAt:      n.RequestedAt.UTC(),
		Address:          n.Address,
		TotalAmountCents: n.TotalAmountCents,
		Currency:         strings.ToUpper(strings.TrimSpace(n.Currency)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if n.Address.Lat != nil {
		lat := *n.Address.Lat
		b.Address.Lat = &lat
	}
	if n.Address.Lng != nil {
		lng := *n.Address.Lng
		b.Address.Lng = &lng
	}
	if n.GatewayOrderID != "" {
		oid := n.GatewayOrderID
		b.GatewayOrderID = &oid
	}
	if err := m.store.Create(ctx, b); err != nil {
		return model.Booking{}, FromStore(op, b.ID, err)
	}
	m.log.Info("booking created", "booking_id", b.ID, "customer_id", b.CustomerID, "service_id", b.ServiceID)
	return b, nil
}
