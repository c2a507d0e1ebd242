package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Counter reports the number of live subscriptions.
type Counter interface {
	Len() int
}

// Health is the health check used by load balancers.  It reports 503 when
// the database is configured and unreachable.
type Health struct {
	DB   Pinger // nil for the in-memory store
	Subs Counter
}

func (h Health) Check(c echo.Context) error {
	body := echo.Map{"status": "ok", "store": "memory"}
	if h.Subs != nil {
		body["subscriptions"] = h.Subs.Len()
	}
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			body["status"], body["store"] = "degraded", "unreachable"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["store"] = "ok"
	}
	return c.JSON(http.StatusOK, body)
}
