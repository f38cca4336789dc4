package net

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"lobbysim/server"
	"lobbysim/server/internal/net/ws"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	sessions := ws.NewSessions(server.ProtocolVersion, nil)
	cfg := server.DefaultHubConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "scene.json")
	cfg.Transport = sessions
	hub := server.NewHub(cfg)
	t.Cleanup(func() { hub.Close(context.Background()) })

	return NewHTTPHandler(hub, ws.NewHandler(hub, sessions, ws.HandlerConfig{}), HTTPHandlerConfig{})
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", payload["status"])
	}
	if rate, ok := payload["tickRate"].(float64); !ok || int(rate) != 64 {
		t.Fatalf("expected tickRate 64, got %v", payload["tickRate"])
	}
	if _, ok := payload["telemetry"].(map[string]any); !ok {
		t.Fatalf("expected telemetry object, got %T", payload["telemetry"])
	}
}

func TestSnapshotSchemaEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/snapshot-schema", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var schema map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &schema); err != nil {
		t.Fatalf("failed to decode schema: %v", err)
	}
	if schema["title"] != "Entity Snapshot" {
		t.Fatalf("expected schema title, got %v", schema["title"])
	}
	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties object, got %T", schema["properties"])
	}
	if _, ok := properties["bundles"]; !ok {
		t.Fatalf("expected bundles property, got %v", properties)
	}
}
