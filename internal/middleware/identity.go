// Package middleware holds the Echo middleware shared by the API routes:
// actor authentication, role guards and rate limiting.
package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

const actorKey = "actor"

// ActorFrom returns the actor JWTAuth stored in the context.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	a, ok := c.Get(actorKey).(model.Actor)
	return a, ok
}

// currentUserID returns the authenticated user id or "anon".
func currentUserID(c echo.Context) string {
	if a, ok := ActorFrom(c); ok && a.ID != "" {
		return a.ID
	}
	if s, ok := c.Get("user_id").(string); ok && s != "" {
		return s
	}
	return "anon"
}
