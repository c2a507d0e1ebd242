package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/booking"
	"github.com/Krishnamurari7/urban-services-platform/internal/middleware"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/payment"
)

// PaymentHandler receives gateway callbacks.  The callbacks carry their
// own signature and are not behind JWTAuth.
type PaymentHandler struct {
	Reconciler *payment.Reconciler
	Log        *slog.Logger
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(r *payment.Reconciler, log *slog.Logger) *PaymentHandler {
	if r == nil || log == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	return &PaymentHandler{Reconciler: r, Log: log}
}

// Confirm handles POST /v1/payments/confirm.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	return h.callback(c, h.Reconciler.Reconcile)
}

// Fail handles POST /v1/payments/fail.
func (h *PaymentHandler) Fail(c echo.Context) error {
	return h.callback(c, h.Reconciler.Fail)
}

func (h *PaymentHandler) callback(c echo.Context, apply func(context.Context, model.PaymentConfirmation) (payment.Result, error)) error {
	var body model.PaymentConfirmation
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.BookingID == "" {
		return badRequest(c, "booking_id is required")
	}
	res, err := apply(c.Request().Context(), body)
	if errors.Is(err, booking.ErrPartialReconciliation) {
		// The payment is recorded; the gateway must not retry.
		return c.JSON(http.StatusAccepted, echo.Map{
			"error":   booking.KindPartialReconciliation,
			"message": err.Error(),
			"booking": res.Booking,
		})
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": res.Booking, "duplicate": res.Duplicate})
}

// Abandon handles POST /v1/bookings/:id/checkout/abandon.
func (h *PaymentHandler) Abandon(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.Reconciler.Abandon(c.Request().Context(), c.Param("id"), actor); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
