package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vadim/neo-chat/internal/config"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Config{
		Server:  config.Server{Host: "127.0.0.1", Port: "0", AllowedOrigins: []string{"*"}, LogLevel: "error"},
		Storage: config.Storage{Driver: config.DriverMemory},
		S3:      config.S3{Bucket: "chat", Region: "us-east-1", PublicURL: "http://localhost:9000/chat"},
	}

	a, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	t.Cleanup(a.hub.Close)
	return a
}

func TestProbes(t *testing.T) {
	a := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestReadinessReportsStoreFailure(t *testing.T) {
	a := newTestApp(t)
	a.store.ping = func(context.Context) error { return errors.New("connection refused") }

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["code"] != "unavailable" || body["error"] == "" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestEmbeddedSpecServedAsJSON(t *testing.T) {
	a := newTestApp(t)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding spec: %v", err)
	}
	if _, ok := doc.Paths["/conversations/{conversationId}/messages"]; !ok {
		t.Error("expected messages path in spec")
	}
}

func TestAPIRequiresIdentity(t *testing.T) {
	a := newTestApp(t)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/me", strings.NewReader(`{"display_name":"Alice","email":"alice@example.com"}`))
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
