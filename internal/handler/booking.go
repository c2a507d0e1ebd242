package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/booking"
	"github.com/Krishnamurari7/urban-services-platform/internal/feed"
	"github.com/Krishnamurari7/urban-services-platform/internal/middleware"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/repository"
)

// BookingHandler exposes the booking lifecycle.  All methods assume
// JWTAuth has run.
type BookingHandler struct {
	Machine *booking.Machine
	History feed.Log
	Log     *slog.Logger
}

// NewBookingHandler constructs a BookingHandler.  All dependencies must be
// non-nil.
func NewBookingHandler(m *booking.Machine, history feed.Log, log *slog.Logger) *BookingHandler {
	if m == nil || history == nil || log == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Machine: m, History: history, Log: log}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized", "message": "no actor in request"})
}

// Create handles POST /v1/bookings.
func (h *BookingHandler) Create(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var body booking.NewBooking
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.Machine.Create(c.Request().Context(), actor, body)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// List handles GET /v1/bookings?status=&limit=&offset=.  Admins may also
// filter by customer_id and professional_id.
func (h *BookingHandler) List(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	f := repository.Filter{
		CustomerID:     c.QueryParam("customer_id"),
		ProfessionalID: c.QueryParam("professional_id"),
		Status:         model.Status(c.QueryParam("status")),
	}
	var err error
	if f.Limit, err = intParam(c, "limit"); err != nil {
		return badRequest(c, "invalid limit")
	}
	if f.Offset, err = intParam(c, "offset"); err != nil {
		return badRequest(c, "invalid offset")
	}
	out, err := h.Machine.List(c.Request().Context(), actor, f)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out, "count": len(out)})
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	b, err := h.Machine.Get(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Transition handles POST /v1/bookings/:id/transitions with body
// {"status": "<requested status>"}.
func (h *BookingHandler) Transition(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		Status model.Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil || body.Status == "" {
		return badRequest(c, "status is required")
	}
	b, err := h.Machine.AttemptTransition(c.Request().Context(), c.Param("id"), body.Status, actor)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Assign handles POST /v1/bookings/:id/assign with body
// {"professional_id": "..."}.
func (h *BookingHandler) Assign(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		ProfessionalID string `json:"professional_id"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.Machine.Assign(c.Request().Context(), c.Param("id"), body.ProfessionalID, actor)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// OverridePayment handles PUT /v1/bookings/:id/payment-status with body
// {"payment_status": "..."}.
func (h *BookingHandler) OverridePayment(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		PaymentStatus model.PaymentStatus `json:"payment_status"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.Machine.OverridePaymentStatus(c.Request().Context(), c.Param("id"), body.PaymentStatus, actor)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.Info("payment status overridden",
		"audit", true, "booking_id", b.ID, "payment_status", b.PaymentStatus, "actor_id", actor.ID)
	return c.JSON(http.StatusOK, b)
}

// Events handles GET /v1/bookings/:id/events?cursor=N and returns the
// booking's events after N.
func (h *BookingHandler) Events(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var cursor uint64
	if v := c.QueryParam("cursor"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return badRequest(c, "invalid cursor")
		}
		cursor = n
	}
	ctx := c.Request().Context()
	b, err := h.Machine.Get(ctx, c.Param("id"), actor)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	evs, err := h.History.Since(ctx, b.ID, cursor)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking_id": b.ID, "cursor": b.Seq, "events": evs})
}
