package router

import (
	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/handler"
)

// RegisterPayments registers the gateway callbacks.  They are
// authenticated by their signature, not by a JWT.
func RegisterPayments(e *echo.Echo, p *handler.PaymentHandler, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/payments", limiter)
	g.POST("/confirm", p.Confirm)
	g.POST("/fail", p.Fail)
}
