package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type mockSession struct{ established bool }

func (m *mockSession) IsEstablished() bool { return m.established }

type mockDBChecker struct{ err error }

func (m *mockDBChecker) Ping(_ context.Context) error { return m.err }

type mockKafkaChecker struct{ ready bool }

func (m *mockKafkaChecker) Ready() bool { return m.ready }

func newTestServer(db DBChecker, kafka KafkaChecker, sessions map[string]SessionStatus) *Server {
	return NewServer(":0", db, kafka, sessions, zap.NewNop())
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", body["status"])
	}
}

func TestReadyz_NoCheckersConfigured(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when no dependency checks are configured, got %d", w.Code)
	}
}

func TestReadyz_DBDown(t *testing.T) {
	s := newTestServer(&mockDBChecker{err: context.DeadlineExceeded}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	checks := body["checks"].(map[string]any)
	if checks["snapshot_db"] != "error" {
		t.Errorf("expected snapshot_db 'error', got '%v'", checks["snapshot_db"])
	}
}

func TestReadyz_KafkaNotReady(t *testing.T) {
	s := newTestServer(nil, &mockKafkaChecker{ready: false}, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestReadyz_AllHealthyReportsPeers(t *testing.T) {
	sessions := map[string]SessionStatus{
		"up":   &mockSession{established: true},
		"down": &mockSession{established: false},
	}
	s := newTestServer(&mockDBChecker{}, &mockKafkaChecker{ready: true}, sessions)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	checks := body["checks"].(map[string]any)
	peers := checks["peers"].(map[string]any)
	if peers["up"] != "established" {
		t.Errorf("expected peer 'up' to be established, got %v", peers["up"])
	}
	if peers["down"] != "down" {
		t.Errorf("expected peer 'down' to be down, got %v", peers["down"])
	}
}
