package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/spigotdb/spigot/internal/auth"
	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestIDGenerated(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Error("no request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != captured {
		t.Errorf("header = %q, context = %q", got, captured)
	}
}

func TestRequestIDHonorsClientValue(t *testing.T) {
	h := RequestID(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-chosen")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-chosen" {
		t.Errorf("request id = %q, want client-chosen", got)
	}
}

func TestAuthenticateWithAPIKey(t *testing.T) {
	store := auth.NewStore(auth.ModeStrict)
	rawKey, _, err := store.Issue("test", []model.Permission{
		{Resource: model.ResourceData, Actions: []string{model.ActionRead}},
	}, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sessions := auth.NewSessions("secret")

	var captured *auth.Context
	h := Authenticate(store, sessions, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetAuthContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if captured == nil || captured.KeyID == "" {
		t.Fatal("no auth context attached")
	}
	if captured.Admin {
		t.Error("API key must not grant admin")
	}
}

func TestAuthenticateAPIKeyAsBearer(t *testing.T) {
	store := auth.NewStore(auth.ModeStrict)
	rawKey, _, err := store.Issue("test", nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	h := Authenticate(store, auth.NewSessions("secret"), "")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthenticateRejectsInvalidKey(t *testing.T) {
	store := auth.NewStore(auth.ModeStrict)
	h := Authenticate(store, auth.NewSessions("secret"), "")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "spg_live_bogusbogusbogus")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	var body model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not valid JSON: %v", err)
	}
	if body.Error.Code != http.StatusUnauthorized {
		t.Errorf("error code = %d", body.Error.Code)
	}
}

func TestAuthenticateStrictRejectsAnonymous(t *testing.T) {
	h := Authenticate(auth.NewStore(auth.ModeStrict), auth.NewSessions("secret"), "")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticatePermissiveAllowsAnonymous(t *testing.T) {
	var captured *auth.Context
	h := Authenticate(auth.NewStore(auth.ModePermissive), auth.NewSessions("secret"), "")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetAuthContext(r.Context())
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if captured == nil || captured.KeyID != "anonymous" {
		t.Errorf("context = %+v", captured)
	}
}

func TestAuthenticateAdminSession(t *testing.T) {
	store := auth.NewStore(auth.ModeStrict)
	sessions := auth.NewSessions("topsecret")
	token, err := sessions.Issue("ops", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var captured *auth.Context
	h := Authenticate(store, sessions, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetAuthContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if captured == nil || !captured.Admin {
		t.Errorf("context = %+v, want admin", captured)
	}
}

func TestRequirePermission(t *testing.T) {
	store := auth.NewStore(auth.ModeStrict)
	rawKey, _, err := store.Issue("reader", []model.Permission{
		{Resource: model.ResourceData, Actions: []string{model.ActionRead}},
	}, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sessions := auth.NewSessions("secret")
	authn := Authenticate(store, sessions, "")

	allowed := authn(RequirePermission(model.ResourceData, model.ActionRead)(okHandler()))
	denied := authn(RequirePermission(model.ResourceData, model.ActionWrite)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", rawKey)

	rec := httptest.NewRecorder()
	allowed.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("read: status = %d, want 200", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/", nil)
	req2.Header.Set("X-API-Key", rawKey)
	rec2 := httptest.NewRecorder()
	denied.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusForbidden {
		t.Errorf("write: status = %d, want 403", rec2.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	store := auth.NewStore(auth.ModeStrict)
	rawKey, _, err := store.Issue("key", nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sessions := auth.NewSessions("secret")
	token, _ := sessions.Issue("ops", time.Minute)

	h := Authenticate(store, sessions, "")(RequireAdmin()(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("api key: status = %d, want 403", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Errorf("admin token: status = %d, want 200", rec2.Code)
	}
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	store := auth.NewStore(auth.ModeStrict)
	rawKey, key, err := store.Issue("limited", nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	key.RateLimit = &model.RateLimitPolicy{RequestsPerMinute: 60, RequestsPerHour: 1000, BurstSize: 2}

	limiter := ratelimit.NewRegistry(discardLogger())
	sessions := auth.NewSessions("secret")
	h := Authenticate(store, sessions, "")(RateLimit(limiter)(okHandler()))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", rawKey)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	if first.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", first.Code)
	}
	if got := first.Header().Get("X-RateLimit-Limit"); got != "60" {
		t.Errorf("limit header = %q, want 60", got)
	}
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Errorf("remaining header = %q, want 1", got)
	}

	do() // consumes the second token

	third := do()
	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", third.Code)
	}
	retry, err := strconv.Atoi(third.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Retry-After = %q", third.Header().Get("Retry-After"))
	}
	var body model.ErrorResponse
	if err := json.Unmarshal(third.Body.Bytes(), &body); err != nil {
		t.Fatalf("429 body not valid JSON: %v", err)
	}
	if body.Error.Code != http.StatusTooManyRequests || body.Error.RetryAfter < 1 {
		t.Errorf("429 body = %+v", body.Error)
	}
}

func TestRateLimitSeparatesClients(t *testing.T) {
	store := auth.NewStore(auth.ModeStrict)

	issue := func(name string) string {
		rawKey, key, err := store.Issue(name, nil, nil)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		key.RateLimit = &model.RateLimitPolicy{RequestsPerMinute: 60, RequestsPerHour: 1000, BurstSize: 1}
		return rawKey
	}
	keyA, keyB := issue("a"), issue("b")

	limiter := ratelimit.NewRegistry(discardLogger())
	h := Authenticate(store, auth.NewSessions("secret"), "")(RateLimit(limiter)(okHandler()))

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(keyA); code != http.StatusOK {
		t.Fatalf("A first: %d", code)
	}
	if code := do(keyA); code != http.StatusTooManyRequests {
		t.Errorf("A second: %d, want 429", code)
	}
	// B has its own bucket and is unaffected by A's exhaustion.
	if code := do(keyB); code != http.StatusOK {
		t.Errorf("B first: %d, want 200", code)
	}
}

func TestClientIDFromForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientID(req); got != "ip:203.0.113.7" {
		t.Errorf("clientID = %q", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "192.0.2.9:4123"
	if got := clientID(req2); got != "ip:192.0.2.9" {
		t.Errorf("clientID = %q", got)
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	h := Logger(discardLogger())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}
