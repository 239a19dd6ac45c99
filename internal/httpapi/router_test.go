package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dwizi/lab-relay/internal/config"
	"github.com/dwizi/lab-relay/internal/heartbeat"
	"github.com/dwizi/lab-relay/internal/registry"
)

type fakeCommands []registry.Entry

func (f fakeCommands) Entries() []registry.Entry {
	return f
}

func newTestRouter(beats *heartbeat.Registry) http.Handler {
	return NewRouter(Dependencies{
		Config: config.Config{Environment: "test", TargetGroup: "windows_lab"},
		Commands: fakeCommands{
			{Name: "install_software", Description: "Install common software", Kind: registry.KindPlaybook, TargetGroup: "windows_lab", PlaybookPath: "/lab/playbooks/windows_software.yml", Timeout: 40 * time.Minute},
			{Name: "start", Description: "Main menu", Kind: registry.KindMenu},
		},
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		Heartbeat:           beats,
		HeartbeatStaleAfter: time.Minute,
		Version:             "test",
	})
}

func TestHealthz(t *testing.T) {
	res := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
}

func TestReadyzFollowsHeartbeat(t *testing.T) {
	beats := heartbeat.NewRegistry()
	handler := newTestRouter(beats)

	beats.Beat(heartbeat.ComponentTelegram, "poll cycle ok")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d: %s", res.Code, res.Body.String())
	}

	beats.Degrade(heartbeat.ComponentTelegram, "poll failed", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready, got %d", res.Code)
	}
}

func TestHeartbeatSnapshot(t *testing.T) {
	beats := heartbeat.NewRegistry()
	beats.Busy(heartbeat.ComponentTelegram, "running /install_software")

	res := httptest.NewRecorder()
	newTestRouter(beats).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/heartbeat", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var snapshot heartbeat.Snapshot
	if err := json.Unmarshal(res.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Overall != heartbeat.StateBusy || len(snapshot.Components) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	res := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/heartbeat", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", res.Code)
	}
}

func TestCommandsListsRegistry(t *testing.T) {
	res := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var payload struct {
		Items []commandItem `json:"items"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Count != 2 || payload.Items[0].Kind != "playbook" || payload.Items[0].TimeoutSeconds != 2400 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Items[1].Playbook != "" {
		t.Fatalf("menu entries have no playbook: %+v", payload.Items[1])
	}
}

func TestCommandsRejectsWrites(t *testing.T) {
	res := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/api/v1/commands", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", res.Code)
	}
}
