package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("invalid_request", "bad\ninput", http.StatusBadRequest).
		WithDetails(map[string]any{"field": "shopId"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_request" || body["message"] != "bad input" || body["field"] != "shopId" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["trace_id"]; ok {
		t.Fatalf("trace id must be omitted outside a span")
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if err := NewError("boom", "", 0); err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", err.Status)
	}
}
