package queue

import (
	"fmt"
	"time"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// FormatAlert renders an alert as one human-friendly log line.
func FormatAlert(a model.OpsAlert) string {
	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	line := fmt.Sprintf("[%s] %s | booking_id=%s | status=%s | payment_status=%s",
		at.UTC().Format(time.RFC3339), a.Kind, a.BookingID, a.Status, a.PaymentStatus)
	if a.GatewayOrderID != "" {
		line += " | gateway_order_id=" + a.GatewayOrderID
	}
	if a.GatewayPaymentID != "" {
		line += " | gateway_payment_id=" + a.GatewayPaymentID
	}
	if a.ActorID != "" {
		line += " | actor_id=" + a.ActorID
	}
	if a.Reason != "" {
		line += fmt.Sprintf(" | reason=%q", a.Reason)
	}
	return line + "\n"
}
