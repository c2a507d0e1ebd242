package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/booking"
	"github.com/Krishnamurari7/urban-services-platform/internal/middleware"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/subscription"
)

// StreamHandler serves live booking updates as server-sent events.  Each
// event's id is "<booking id>:<seq>", so a reconnecting EventSource sends
// back exactly the cursor it needs in Last-Event-ID.
type StreamHandler struct {
	Machine   *booking.Machine
	Router    *subscription.Router
	Buffer    int
	Heartbeat time.Duration
	Log       *slog.Logger
}

// Booking handles GET /v1/bookings/:id/stream?cursor=N.
func (h *StreamHandler) Booking(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	b, err := h.Machine.Get(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	cursors := map[string]uint64{}
	if v := c.QueryParam("cursor"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return badRequest(c, "invalid cursor")
		}
		cursors[b.ID] = n
	}
	if id, seq, ok := parseEventID(c.Request().Header.Get("Last-Event-ID")); ok && id == b.ID {
		cursors[b.ID] = seq
	}
	return h.serve(c, subscription.Filter{BookingID: b.ID}, cursors)
}

// User handles GET /v1/stream?cursors=<id>:<seq>,...  It streams every
// booking the caller takes part in; admins see all bookings.
func (h *StreamHandler) User(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	cursors := map[string]uint64{}
	if v := c.QueryParam("cursors"); v != "" {
		for _, part := range strings.Split(v, ",") {
			id, seq, ok := parseEventID(part)
			if !ok {
				return badRequest(c, "invalid cursors")
			}
			cursors[id] = seq
		}
	}
	if id, seq, ok := parseEventID(c.Request().Header.Get("Last-Event-ID")); ok && seq > cursors[id] {
		cursors[id] = seq
	}
	return h.serve(c, subscription.Filter{UserID: actor.ID, Role: actor.Role}, cursors)
}

// parseEventID splits "<booking id>:<seq>".
func parseEventID(s string) (string, uint64, bool) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return s[:i], seq, true
}

func (h *StreamHandler) serve(c echo.Context, f subscription.Filter, cursors map[string]uint64) error {
	ctx := c.Request().Context()
	sink := subscription.NewChanSink(h.Buffer)
	sub, backlog, err := h.Router.Open(ctx, f, cursors, sink)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	defer h.Router.Close(sub)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, ev := range backlog {
		if err := writeEvent(w, ev); err != nil {
			return nil
		}
	}
	w.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sink.C:
			if err := writeEvent(w, ev); err != nil {
				return nil
			}
			w.Flush()
		case <-sub.Done():
			// Hand over what was buffered, then tell the client to
			// reconnect from its last event id.
			for len(sink.C) > 0 {
				if err := writeEvent(w, <-sink.C); err != nil {
					return nil
				}
			}
			fmt.Fprint(w, "event: resync\ndata: {}\n\n")
			w.Flush()
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev model.TransitionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s:%d\nevent: %s\ndata: %s\n\n", ev.BookingID, ev.Seq, ev.Kind, data)
	return err
}
