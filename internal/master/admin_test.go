package master

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nfkplanet/planetd/internal/config"
	mastermetrics "github.com/nfkplanet/planetd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Blacklist.Path = ""
	return New(cfg, discardLogger(), WithMetrics(mastermetrics.NewCollector(prometheus.NewRegistry())))
}

func TestAdminStatus(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	h := NewAdminHandler(m)

	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(resp.Workers) != len(m.workers) {
		t.Errorf("len(resp.Workers) = %d, want %d", len(resp.Workers), len(m.workers))
	}
}

func TestAdminListSessionsEmpty(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	h := NewAdminHandler(m)

	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	var resp []sessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("len(resp) = %d, want 0", len(resp))
	}
}

func TestAdminKickSessionNotFound(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	h := NewAdminHandler(m)

	body, _ := json.Marshal(kickRequest{Target: "10.0.0.1:7777"})
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/kick", bytes.NewReader(body)))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAdminKickSessionMalformedTarget(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	h := NewAdminHandler(m)

	body, _ := json.Marshal(kickRequest{Target: "not-a-target"})
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/kick", bytes.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAdminKickSessionSucceeds(t *testing.T) {
	t.Parallel()

	w, reg := newTestWorker(t, nil)
	go w.run(testRunContext(t))

	owner := newTestClient("10.0.0.1", 0)
	owner.ownerWorker = w
	s := &Session{Owner: owner, Port: 7777}
	reg.RegisterSession(s)

	m := &Manager{registry: reg, workers: []*Worker{w}, logger: discardLogger()}
	h := NewAdminHandler(m)

	body, _ := json.Marshal(kickRequest{Target: "10.0.0.1:7777"})
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/kick", bytes.NewReader(body)))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}
