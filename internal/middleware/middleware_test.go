package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Krishnamurari7/urban-services-platform/internal/config"
	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/obs"
	"github.com/Krishnamurari7/urban-services-platform/internal/utils"
)

const secret = "test-secret"

func token(t *testing.T, id string, role model.Role) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, id, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok.Token
}

func newServer(mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		a, ok := ActorFrom(c)
		if !ok {
			return c.String(http.StatusInternalServerError, "no actor")
		}
		return c.String(http.StatusOK, a.ID+"/"+string(a.Role))
	}, mws...)
	e.POST("/whoami", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, mws...)
	return e
}

func TestJWTAuth(t *testing.T) {
	e := newServer(JWTAuth(secret))
	cases := []struct {
		name   string
		method string
		target string
		header string
		code   int
		body   string
	}{
		{"bearer header", http.MethodGet, "/whoami", "Bearer " + token(t, "c1", model.RoleCustomer), http.StatusOK, "c1/CUSTOMER"},
		{"query token on GET", http.MethodGet, "/whoami?access_token=" + token(t, "a1", model.RoleAdmin), "", http.StatusOK, "a1/ADMIN"},
		{"query token on POST", http.MethodPost, "/whoami?access_token=" + token(t, "a1", model.RoleAdmin), "", http.StatusUnauthorized, ""},
		{"missing", http.MethodGet, "/whoami", "", http.StatusUnauthorized, ""},
		{"bad token", http.MethodGet, "/whoami", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d (%s)", tc.code, rec.Code, rec.Body.String())
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("expected body %q, got %q", tc.body, rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := newServer(JWTAuth(secret), RequireRole(model.RoleAdmin))
	for _, tc := range []struct {
		role model.Role
		code int
	}{
		{model.RoleAdmin, http.StatusOK},
		{model.RoleCustomer, http.StatusForbidden},
		{model.RoleProfessional, http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, "u1", tc.role))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.role, tc.code, rec.Code)
		}
	}
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: false}
	e := newServer(JWTAuth(secret), NewTokenBucket(cfg, nil, obs.Discard()))
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "u1", model.RoleCustomer))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("disabled limiter must not set headers")
	}
}

// Buckets written by earlier deployments must stay readable.
func TestTokenBucketStateLayout(t *testing.T) {
	for _, want := range []string{
		"redis.call('HMGET', key, 'tokens', 'last_refill_ms')",
		"'tokens', tokens, 'last_refill_ms', last_refill, 'capacity', capacity",
		"redis.call('EXPIRE', key, ttl_seconds)",
	} {
		if !strings.Contains(tokenBucketSrc, want) {
			t.Fatalf("token bucket script lost %q", want)
		}
	}
	if tokenBucket.Hash() == "" {
		t.Fatal("expected a script hash")
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.Header.Set("X-Real-IP", "10.0.0.9")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/bookings")
	c.Set(actorKey, model.Actor{ID: "c1", Role: model.RoleCustomer})

	cases := map[string]string{
		"ip":          "rl:ip:10.0.0.9",
		"user":        "rl:user:c1",
		"route":       "rl:route:POST /v1/bookings",
		"user_route":  "rl:user:c1:route:POST /v1/bookings",
		"unknown-mix": "rl:ip:10.0.0.9:user:c1:route:POST /v1/bookings",
	}
	for strategy, want := range cases {
		got := buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c)
		if got != want {
			t.Fatalf("%s: expected %q, got %q", strategy, want, got)
		}
	}
}

func TestAsInt64(t *testing.T) {
	for _, v := range []any{int64(3), 3, int32(3), float64(3), "3"} {
		if asInt64(v) != 3 {
			t.Fatalf("expected 3 from %T", v)
		}
	}
	if asInt64(nil) != 0 {
		t.Fatal("expected 0 from nil")
	}
}
