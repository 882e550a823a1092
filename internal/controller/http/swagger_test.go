package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

const testSpec = `openapi: "3.0.3"
info:
  title: Test
  version: "1"
paths:
  /ping:
    get:
      responses:
        '200':
          description: ok
`

func TestSwaggerServesJSON(t *testing.T) {
	h, err := NewSwaggerHandler("Test", []byte(testSpec))
	if err != nil {
		t.Fatalf("NewSwaggerHandler failed: %v", err)
	}
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("spec is not valid JSON: %v", err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Errorf("unexpected openapi version %v", doc["openapi"])
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("unexpected UI response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestSwaggerRejectsInvalidSpec(t *testing.T) {
	if _, err := NewSwaggerHandler("Test", []byte("a: [")); err == nil {
		t.Error("expected error for malformed spec")
	}
}
