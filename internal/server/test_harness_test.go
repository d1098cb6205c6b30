package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/evarainy/babycare/internal/config"
)

var baseTestConfig = config.Config{
	AppEnv:             "test",
	AppName:            "BabyCare API",
	APIPrefix:          "/api/v1",
	AppPort:            "0",
	DatabaseURL:        "postgres://unused",
	JWTSecret:          "unit-test-secret-0123456789",
	JWTAlgorithm:       "HS256",
	AuthAutoCreateUser: true,
	CORSAllowOrigins:   []string{"http://localhost:5173"},
	LLMTimeoutSeconds:  15,
	SiriSecret:         "siri-test-secret",
}

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRouter builds a router without a database pool. Only request paths
// that are rejected before touching storage may be exercised with it.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newTestRouterWithConfig(t, baseTestConfig)
}

func newTestRouterWithConfig(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	return New(cfg, nil).Router()
}

func signToken(t *testing.T, sub string, extra map[string]any) string {
	t.Helper()
	return signTokenWithConfig(t, baseTestConfig, sub, extra)
}

func signTokenWithConfig(t *testing.T, cfg config.Config, sub string, extra map[string]any) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for key, value := range extra {
		claims[key] = value
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func performRequest(t *testing.T, router *gin.Engine, method, path, bearer string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSONMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
	return body
}

func responseDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSONMap(t, rec)
	detail, _ := body["detail"].(string)
	return detail
}
