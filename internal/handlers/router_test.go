package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/engine/internal/platform/webhooksig"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	router := NewRouter()

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"readyz", http.MethodGet, "/readyz", http.StatusOK},
		{"unregistered internal group", http.MethodPost, "/internal/v1/shops/s1/events", http.StatusNotImplemented},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected content-type application/json, got %s", ct)
			}
		})
	}
}

func TestNewRouter_NotFoundIncludesRequestID(t *testing.T) {
	router := NewRouter()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != errorNotFoundCode {
		t.Fatalf("expected %s, got %v", errorNotFoundCode, body["error"])
	}
	if id, _ := body["request_id"].(string); id == "" {
		t.Fatalf("expected request id in error body, got %v", body)
	}
}

func TestNewRouter_InternalRoutesRequireSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := webhooksig.NewVerifier("internal-secret", func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	signer, err := webhooksig.NewSigner("internal-secret", webhooksig.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	router := NewRouter(
		WithInternalMiddlewares(verifier.Middleware(nil)),
		WithInternalRoutes(func(r chi.Router) {
			r.Post("/ping", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}),
	)

	unsigned := httptest.NewRecorder()
	router.ServeHTTP(unsigned, httptest.NewRequest(http.MethodPost, "/internal/v1/ping", bytes.NewReader([]byte(`{}`))))
	if unsigned.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned request, got %d", unsigned.Code)
	}

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/ping", bytes.NewReader(body))
	if err := signer.Sign(req, body); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	signed := httptest.NewRecorder()
	router.ServeHTTP(signed, req)
	if signed.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for signed request, got %d", signed.Code)
	}

	health := httptest.NewRecorder()
	router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health checks must not require a signature, got %d", health.Code)
	}
}
