package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/booking"
	"github.com/Krishnamurari7/urban-services-platform/internal/config"
	"github.com/Krishnamurari7/urban-services-platform/internal/feed"
	"github.com/Krishnamurari7/urban-services-platform/internal/handler"
	"github.com/Krishnamurari7/urban-services-platform/internal/middleware"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/obs"
	"github.com/Krishnamurari7/urban-services-platform/internal/payment"
	"github.com/Krishnamurari7/urban-services-platform/internal/repository"
	"github.com/Krishnamurari7/urban-services-platform/internal/router"
	"github.com/Krishnamurari7/urban-services-platform/internal/subscription"
	"github.com/Krishnamurari7/urban-services-platform/internal/utils"
)

const jwtSecret = "jwt-test-secret"

type app struct {
	e        *echo.Echo
	store    *repository.MemoryStore
	verifier *payment.Verifier
	subs     *subscription.Router
}

func newApp(t *testing.T) *app {
	t.Helper()
	log := obs.Discard()
	store := repository.NewMemoryStore()
	f := feed.New(store, nil, "test", log)
	m := booking.NewMachine(store, f, log)
	subs := subscription.NewRouter(f, store, log)
	f.Attach(subs)
	v, err := payment.NewVerifier(payment.SchemeHMACSHA256, payment.EncodingHex, []byte("gw-secret"))
	if err != nil {
		t.Fatal(err)
	}
	rec := payment.NewReconciler(m, v, nil, log)

	e := echo.New()
	limiter := middleware.NewTokenBucket(config.RateLimitConfig{}, nil, log)
	bh := handler.NewBookingHandler(m, f, log)
	ph := handler.NewPaymentHandler(rec, log)
	sh := &handler.StreamHandler{Machine: m, Router: subs, Buffer: 16, Heartbeat: time.Second, Log: log}
	router.RegisterRoutes(e, handler.Health{Subs: subs})
	router.RegisterBookings(e, bh, ph, sh, jwtSecret, limiter)
	router.RegisterPayments(e, ph, limiter)
	return &app{e: e, store: store, verifier: v, subs: subs}
}

func bearer(t *testing.T, id string, role model.Role) string {
	t.Helper()
	tok, err := utils.NewAccessToken(jwtSecret, id, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok.Token
}

func (a *app) do(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (a *app) createBooking(t *testing.T, customer string) model.Booking {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/bookings", bearer(t, customer, model.RoleCustomer), map[string]any{
		"service_id":         "svc-1",
		"requested_at":       time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"address":            map[string]any{"line1": "221B Baker St", "city": "London"},
		"total_amount_cents": 2500,
		"currency":           "gbp",
		"gateway_order_id":   "order_" + customer,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	return decode[model.Booking](t, rec)
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateRequiresCustomer(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodPost, "/v1/bookings", bearer(t, "p1", model.RoleProfessional), map[string]any{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/v1/bookings", "", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/v1/bookings", bearer(t, "c1", model.RoleCustomer), map[string]any{"service_id": "svc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for incomplete booking, got %d", rec.Code)
	}
}

func TestTransitionErrorsMapToStatus(t *testing.T) {
	a := newApp(t)
	b := a.createBooking(t, "c1")
	path := "/v1/bookings/" + b.ID + "/transitions"

	rec := a.do(t, http.MethodPost, path, bearer(t, "p1", model.RoleProfessional), map[string]string{"status": "accepted"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d (%s)", rec.Code, rec.Body.String())
	}
	body := decode[map[string]string](t, rec)
	if body["error"] != string(booking.KindPaymentRequired) {
		t.Fatalf("expected PaymentRequired body, got %v", body)
	}

	rec = a.do(t, http.MethodPost, path, bearer(t, "c1", model.RoleCustomer), map[string]string{"status": "completed"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, path, bearer(t, "c2", model.RoleCustomer), map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/v1/bookings/missing/transitions", bearer(t, "a1", model.RoleAdmin), map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, path, bearer(t, "c1", model.RoleCustomer), map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for cancel, got %d", rec.Code)
	}
}

func TestPaymentConfirmFlow(t *testing.T) {
	a := newApp(t)
	b := a.createBooking(t, "c1")
	conf := model.PaymentConfirmation{
		BookingID:        b.ID,
		GatewayOrderID:   "order_c1",
		GatewayPaymentID: "pay_1",
		Signature:        a.verifier.Sign("order_c1", "pay_1"),
	}

	bad := conf
	bad.Signature = strings.Repeat("0", 64)
	if rec := a.do(t, http.MethodPost, "/v1/payments/confirm", "", bad); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}

	rec := a.do(t, http.MethodPost, "/v1/payments/confirm", "", conf)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var res struct {
		Booking   model.Booking `json:"booking"`
		Duplicate bool          `json:"duplicate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Booking.Status != model.StatusAccepted || res.Booking.PaymentStatus != model.PaymentCompleted || res.Duplicate {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = a.do(t, http.MethodPost, "/v1/payments/confirm", "", conf)
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || !res.Duplicate {
		t.Fatalf("expected duplicate 200, got %d %+v", rec.Code, res)
	}

	rec = a.do(t, http.MethodGet, "/v1/bookings/"+b.ID+"/events?cursor=0", bearer(t, "c1", model.RoleCustomer), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", rec.Code)
	}
	var hist struct {
		Events []model.TransitionEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Events) != 2 || hist.Events[0].Kind != model.EventPayment || hist.Events[1].Kind != model.EventTransition {
		t.Fatalf("expected payment then transition event, got %+v", hist.Events)
	}
}

func TestAdminRoutes(t *testing.T) {
	a := newApp(t)
	b := a.createBooking(t, "c1")

	rec := a.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/assign", bearer(t, "c1", model.RoleCustomer), map[string]string{"professional_id": "p1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/assign", bearer(t, "a1", model.RoleAdmin), map[string]string{"professional_id": "p1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = a.do(t, http.MethodPut, "/v1/bookings/"+b.ID+"/payment-status", bearer(t, "a1", model.RoleAdmin), map[string]string{"payment_status": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("override: expected 200, got %d", rec.Code)
	}
	got := decode[model.Booking](t, rec)
	if got.Status != model.StatusPending || got.PaymentStatus != model.PaymentCompleted {
		t.Fatalf("expected pending/completed, got %s/%s", got.Status, got.PaymentStatus)
	}

	rec = a.do(t, http.MethodGet, "/v1/bookings", bearer(t, "p1", model.RoleProfessional), nil)
	list := decode[struct {
		Items []model.Booking `json:"items"`
	}](t, rec)
	if len(list.Items) != 1 || list.Items[0].ID != b.ID {
		t.Fatalf("expected professional to list the assigned booking, got %+v", list.Items)
	}
	if rec := a.do(t, http.MethodGet, "/v1/bookings?limit=x", bearer(t, "a1", model.RoleAdmin), nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestAbandonCheckout(t *testing.T) {
	a := newApp(t)
	b := a.createBooking(t, "c1")
	rec := a.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/checkout/abandon", bearer(t, "c1", model.RoleCustomer), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	got, _ := a.store.Get(context.Background(), b.ID)
	if got.Seq != 0 {
		t.Fatalf("expected no mutation, got seq %d", got.Seq)
	}
}

func TestBookingStream(t *testing.T) {
	a := newApp(t)
	b := a.createBooking(t, "c1")
	srv := httptest.NewServer(a.e)
	defer srv.Close()

	// One event exists before the observer connects.
	a.do(t, http.MethodPut, "/v1/bookings/"+b.ID+"/payment-status", bearer(t, "a1", model.RoleAdmin), map[string]string{"payment_status": "completed"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/bookings/"+b.ID+"/stream?cursor=0", nil)
	req.Header.Set("Authorization", bearer(t, "c1", model.RoleCustomer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	ids := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "id: ") {
				ids <- strings.TrimPrefix(line, "id: ")
			}
		}
		close(ids)
	}()

	next := func() string {
		select {
		case id := <-ids:
			return id
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return ""
	}
	if id := next(); id != b.ID+":1" {
		t.Fatalf("expected backlog event %s:1, got %s", b.ID, id)
	}

	rec := a.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/transitions", bearer(t, "p1", model.RoleProfessional), map[string]string{"status": "accepted"})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if id := next(); id != b.ID+":2" {
		t.Fatalf("expected live event %s:2, got %s", b.ID, id)
	}
}

func TestStreamForbiddenForStranger(t *testing.T) {
	a := newApp(t)
	b := a.createBooking(t, "c1")
	rec := a.do(t, http.MethodGet, "/v1/bookings/"+b.ID+"/stream", bearer(t, "c2", model.RoleCustomer), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if a.subs.Len() != 0 {
		t.Fatalf("expected no subscription, got %d", a.subs.Len())
	}
}

func TestUserStreamBacklogWithCancelledContext(t *testing.T) {
	a := newApp(t)
	b := a.createBooking(t, "c1")
	a.do(t, http.MethodPut, "/v1/bookings/"+b.ID+"/payment-status", bearer(t, "a1", model.RoleAdmin), map[string]string{"payment_status": "failed"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)
	req.Header.Set("Authorization", bearer(t, "c1", model.RoleCustomer))
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "id: "+b.ID+":1\n") {
		t.Fatalf("expected backlog event in %q", rec.Body.String())
	}
	if a.subs.Len() != 0 {
		t.Fatalf("expected subscription closed, got %d", a.subs.Len())
	}
}
