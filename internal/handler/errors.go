// Package handler contains the HTTP handlers of the booking API.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/booking"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(k booking.Kind) int {
	switch k {
	case booking.KindInvalidInput:
		return http.StatusBadRequest
	case booking.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case booking.KindForbidden:
		return http.StatusForbidden
	case booking.KindPaymentRequired:
		return http.StatusPaymentRequired
	case booking.KindConflict:
		return http.StatusConflict
	case booking.KindNotFound:
		return http.StatusNotFound
	case booking.KindInvalidSignature:
		return http.StatusUnauthorized
	case booking.KindPartialReconciliation:
		return http.StatusAccepted
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": kind, "message": ...}.  Errors
// without a kind are logged and hidden behind a generic 500.
func writeError(c echo.Context, log *slog.Logger, err error) error {
	kind := booking.KindOf(err)
	if kind == "" {
		log.Error("request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal", "message": "internal error"})
	}
	return c.JSON(statusFor(kind), echo.Map{"error": kind, "message": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": booking.KindInvalidInput, "message": msg})
}
