package server

import (
	"net/http"
	"strings"
	"testing"
)

func TestHealthOK(t *testing.T) {
	router := newTestRouter(t)
	rec := performRequest(t, router, http.MethodGet, "/health", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	body := decodeJSONMap(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
	if body["service"] != "babycare-api" {
		t.Fatalf("expected service=babycare-api, got %v", body["service"])
	}
}

func TestProtectedEndpointRejectsMissingBearerToken(t *testing.T) {
	router := newTestRouter(t)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/records/today-summary", "", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Bearer token required" {
		t.Fatalf("expected Bearer token required, got %q", detail)
	}
}

func TestProtectedEndpointRejectsMalformedToken(t *testing.T) {
	router := newTestRouter(t)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/records/today-summary", "not-a-jwt", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Invalid bearer token" {
		t.Fatalf("expected invalid bearer token detail, got %q", detail)
	}
}

func TestProtectedEndpointRejectsTokenWithoutSub(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "", nil)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/records/today-summary", token, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Token subject missing" {
		t.Fatalf("expected token subject missing detail, got %q", detail)
	}
}

func TestProtectedEndpointRejectsAudienceMismatch(t *testing.T) {
	cfg := baseTestConfig
	cfg.JWTAudience = "expected-audience"
	router := newTestRouterWithConfig(t, cfg)
	token := signTokenWithConfig(t, cfg, "user-1", map[string]any{"aud": "wrong-audience"})

	rec := performRequest(t, router, http.MethodGet, "/api/v1/records/today-summary", token, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Invalid token audience" {
		t.Fatalf("expected invalid token audience detail, got %q", detail)
	}
}

func TestProtectedEndpointRejectsIssuerMismatch(t *testing.T) {
	cfg := baseTestConfig
	cfg.JWTIssuer = "expected-issuer"
	router := newTestRouterWithConfig(t, cfg)
	token := signTokenWithConfig(t, cfg, "user-1", map[string]any{"iss": "wrong-issuer"})

	rec := performRequest(t, router, http.MethodGet, "/api/v1/records/today-summary", token, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Invalid token issuer" {
		t.Fatalf("expected invalid token issuer detail, got %q", detail)
	}
}

func TestSiriChannelUnavailableWithoutSecret(t *testing.T) {
	cfg := baseTestConfig
	cfg.SiriSecret = ""
	router := newTestRouterWithConfig(t, cfg)

	rec := performRequest(
		t,
		router,
		http.MethodPost,
		"/api/v1/assistants/siri/record",
		"",
		map[string]any{"userId": "u1", "text": "奶粉150"},
		nil,
	)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSiriChannelRejectsWrongSecret(t *testing.T) {
	router := newTestRouter(t)
	rec := performRequest(
		t,
		router,
		http.MethodPost,
		"/api/v1/assistants/siri/record",
		"",
		map[string]any{"userId": "u1", "text": "奶粉150"},
		map[string]string{"X-Siri-Secret": "wrong"},
	)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSiriChannelRejectsWrongBodySecret(t *testing.T) {
	router := newTestRouter(t)
	rec := performRequest(
		t,
		router,
		http.MethodPost,
		"/api/v1/assistants/siri/record",
		"",
		map[string]any{"userId": "u1", "text": "奶粉150", "secret": "wrong"},
		nil,
	)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Invalid secret" {
		t.Fatalf("expected invalid secret detail, got %q", detail)
	}
}

func TestBotWebhookRequiresChatID(t *testing.T) {
	router := newTestRouter(t)
	rec := performRequest(
		t,
		router,
		http.MethodPost,
		"/api/v1/bot/webhook",
		"",
		map[string]any{"content": "奶粉150", "from": "colleague-1"},
		nil,
	)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "chatId is required" {
		t.Fatalf("expected chatId detail, got %q", detail)
	}
}

func TestBabyAndProfileRoutesAreRegistered(t *testing.T) {
	router := newTestRouter(t)
	// Each of these must reach the auth middleware, not fall through to 404.
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/v1/babies/baby-1"},
		{http.MethodPatch, "/api/v1/users/me"},
		{http.MethodPost, "/api/v1/babies/current"},
		{http.MethodPost, "/api/v1/family/bind"},
	}
	for _, tc := range cases {
		rec := performRequest(t, router, tc.method, tc.path, "", nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d body=%s", tc.method, tc.path, rec.Code, rec.Body.String())
		}
	}
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	router := newTestRouter(t)
	origin := "http://localhost:5173"
	rec := performRequest(
		t,
		router,
		http.MethodOptions,
		"/api/v1/records",
		"",
		nil,
		map[string]string{
			"Origin":                         origin,
			"Access-Control-Request-Method":  "POST",
			"Access-Control-Request-Headers": "Authorization,Content-Type",
		},
	)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
		t.Fatalf("expected allow origin %q, got %q", origin, got)
	}
}

func TestCORSPreflightRejectsDisallowedOrigin(t *testing.T) {
	router := newTestRouter(t)
	origin := "https://example.invalid"
	rec := performRequest(
		t,
		router,
		http.MethodOptions,
		"/api/v1/records",
		"",
		nil,
		map[string]string{
			"Origin":                        origin,
			"Access-Control-Request-Method": "POST",
		},
	)

	if rec.Code != http.StatusNoContent && rec.Code != http.StatusForbidden {
		t.Fatalf("expected 204 or 403 for disallowed origin, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); strings.TrimSpace(got) != "" {
		t.Fatalf("expected no allow-origin header for disallowed origin, got %q", got)
	}
}
