package router

import (
	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/handler"
	"github.com/Krishnamurari7/urban-services-platform/internal/middleware"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// RegisterBookings registers the booking API under /v1.  Every route
// requires a valid JWT; the rate limiter runs after authentication so it
// can key on the user.  Per-booking authorization happens in the state
// machine, the role guards here only cover admin-only and customer-only
// operations.
func RegisterBookings(e *echo.Echo, b *handler.BookingHandler, p *handler.PaymentHandler, s *handler.StreamHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret), limiter)

	g.POST("/bookings", b.Create, middleware.RequireRole(model.RoleCustomer))
	g.GET("/bookings", b.List)
	g.GET("/bookings/:id", b.Get)
	g.POST("/bookings/:id/transitions", b.Transition)
	g.GET("/bookings/:id/events", b.Events)

	admin := middleware.RequireRole(model.RoleAdmin)
	g.POST("/bookings/:id/assign", b.Assign, admin)
	g.PUT("/bookings/:id/payment-status", b.OverridePayment, admin)

	g.POST("/bookings/:id/checkout/abandon", p.Abandon, middleware.RequireRole(model.RoleCustomer))

	g.GET("/bookings/:id/stream", s.Booking)
	g.GET("/stream", s.User)
}
