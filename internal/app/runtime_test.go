package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwizi/lab-relay/internal/config"
	"github.com/dwizi/lab-relay/internal/heartbeat"
	"github.com/dwizi/lab-relay/internal/registry"
	"github.com/dwizi/lab-relay/internal/relayerr"
	"github.com/dwizi/lab-relay/internal/runner"
	"github.com/dwizi/lab-relay/internal/watcher"
)

type stubRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (s *stubRunner) Run(ctx context.Context, inv runner.Invocation) runner.Result {
	s.mu.Lock()
	s.calls = append(s.calls, inv.Argv)
	s.mu.Unlock()
	return runner.Result{
		Outcome:  runner.OutcomeExited,
		ExitCode: 0,
		Stdout:   "pc01 | SUCCESS => {\"ping\": \"pong\"}\n",
		Elapsed:  time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeProject(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		TelegramToken:         "123456:test-token",
		TelegramPoll:          1,
		OperatorChatID:        "1000",
		ProjectPath:           dir,
		InventoryPath:         filepath.Join(dir, "inventory", "windows.ini"),
		SoftwarePlaybook:      filepath.Join(dir, "playbooks", "windows_software.yml"),
		TargetGroup:           "windows_lab",
		AnsibleBinary:         "ansible",
		AnsiblePlaybookBinary: "ansible-playbook",
		PingModule:            "win_ping",
		PingTimeoutSec:        60,
		ProbeTimeoutSec:       30,
		HostProbeTimeoutSec:   10,
		PlaybookTimeoutSec:    2400,
		StatusConcurrency:     2,
		NotifyTimeoutSec:      2,
		HeartbeatEnabled:      true,
		HeartbeatIntervalSec:  30,
		HeartbeatStaleSec:     120,
	}
	files := map[string]string{
		cfg.InventoryPath:    "[windows_lab]\npc01 ansible_host=10.0.0.11\n",
		cfg.SoftwarePlaybook: "- hosts: windows_lab\n  tasks:\n    - name: Install 7zip\n      win_chocolatey:\n        name: 7zip\n",
	}
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return cfg
}

func TestNewFailsBeforeAnyTelegramRequest(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	placeholder := writeProject(t)
	placeholder.TelegramAPI = server.URL
	placeholder.TelegramToken = "MASUKKAN_TOKEN_ANDA_DISINI"

	missingInventory := writeProject(t)
	missingInventory.TelegramAPI = server.URL
	if err := os.Remove(missingInventory.InventoryPath); err != nil {
		t.Fatalf("remove inventory: %v", err)
	}

	missingChat := writeProject(t)
	missingChat.TelegramAPI = server.URL
	missingChat.OperatorChatID = ""

	for name, cfg := range map[string]config.Config{
		"placeholder token": placeholder,
		"missing inventory": missingInventory,
		"missing chat":      missingChat,
	} {
		if _, err := New(cfg, testLogger()); !errors.Is(err, relayerr.ErrConfigurationMissing) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
	if got := requests.Load(); got != 0 {
		t.Fatalf("expected no telegram requests, got %d", got)
	}
}

func TestRunRelaysCommandReplyAndNotification(t *testing.T) {
	type sent struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}
	var (
		mu          sync.Mutex
		messages    []sent
		updatesSent bool
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/getUpdates"):
			mu.Lock()
			first := !updatesSent
			updatesSent = true
			mu.Unlock()
			result := []any{}
			if first {
				result = append(result, map[string]any{
					"update_id": 1,
					"message": map[string]any{
						"message_id": 1,
						"from":       map[string]any{"id": 7},
						"chat":       map[string]any{"id": 42, "type": "private"},
						"text":       "/windows_ping",
					},
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
		case strings.HasSuffix(req.URL.Path, "/sendMessage"):
			var payload sent
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				t.Errorf("decode sendMessage: %v", err)
			}
			mu.Lock()
			messages = append(messages, payload)
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		case strings.HasSuffix(req.URL.Path, "/getMe"):
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"username": "lab_bot"}})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	defer server.Close()

	cfg := writeProject(t)
	cfg.TelegramAPI = server.URL
	processes := &stubRunner{}
	rt, err := New(cfg, testLogger(), WithProcessRunner(processes))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rt.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		count := len(messages)
		mu.Unlock()
		if count >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 2 {
		t.Fatalf("expected reply and notification, got %+v", messages)
	}
	if messages[0].ChatID != 42 || !strings.Contains(messages[0].Text, "ALL PCS ONLINE") {
		t.Fatalf("unexpected reply: %+v", messages[0])
	}
	if messages[1].ChatID != 1000 || !strings.HasPrefix(messages[1].Text, "🔔") || !strings.Contains(messages[1].Text, "WINDOWS_PING SUCCESS") {
		t.Fatalf("unexpected notification: %+v", messages[1])
	}
	if len(processes.calls) != 1 || processes.calls[0][1] != "windows_lab" {
		t.Fatalf("unexpected process calls: %v", processes.calls)
	}
}

func TestNewLocalPrintsRepliesAndNotifications(t *testing.T) {
	cfg := writeProject(t)
	cfg.TelegramToken = ""
	cfg.OperatorOnly = true
	var out bytes.Buffer
	dispatcher, err := NewLocal(cfg, testLogger(), &out, WithProcessRunner(&stubRunner{}))
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	trace := dispatcher.Handle(context.Background(), LocalRequest("/windows_ping"))
	if trace.Final().String() != "completed" {
		t.Fatalf("unexpected trace: %s", trace.Path())
	}
	printed := out.String()
	if !strings.Contains(printed, "[to local]") || !strings.Contains(printed, "[to 1000]") {
		t.Fatalf("expected reply and operator notification, got %q", printed)
	}
}

func TestCheckRegistryFile(t *testing.T) {
	cfg := writeProject(t)
	if problem := checkRegistryFile(watcher.Change{Path: cfg.InventoryPath, Kind: watcher.ChangeModified}, cfg.InventoryPath); problem != "" {
		t.Fatalf("valid inventory reported a problem: %s", problem)
	}
	if problem := checkRegistryFile(watcher.Change{Path: cfg.SoftwarePlaybook, Kind: watcher.ChangeRemoved}, cfg.InventoryPath); !strings.Contains(problem, "removed") {
		t.Fatalf("expected removal problem, got %q", problem)
	}
	if err := os.WriteFile(cfg.SoftwarePlaybook, []byte("- hosts: [unclosed\n"), 0o644); err != nil {
		t.Fatalf("write playbook: %v", err)
	}
	if problem := checkRegistryFile(watcher.Change{Path: cfg.SoftwarePlaybook, Kind: watcher.ChangeModified}, cfg.InventoryPath); !strings.Contains(problem, "no longer parses") {
		t.Fatalf("expected parse problem, got %q", problem)
	}
}

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, text string) {
	r.messages = append(r.messages, text)
}

func TestHeartbeatNotifierForwardsDegradedAndRecovered(t *testing.T) {
	recorder := &recordingNotifier{}
	notifier := newHeartbeatNotifier(recorder, true, testLogger())

	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: heartbeat.ComponentTelegram,
		FromState: heartbeat.StateHealthy,
		ToState:   heartbeat.StateStale,
	}, heartbeat.Snapshot{Overall: heartbeat.StateDegraded})
	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: heartbeat.ComponentTelegram,
		FromState: heartbeat.StateStarting,
		ToState:   heartbeat.StateHealthy,
	}, heartbeat.Snapshot{Overall: heartbeat.StateHealthy})
	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: heartbeat.ComponentTelegram,
		FromState: heartbeat.StateStale,
		ToState:   heartbeat.StateBusy,
	}, heartbeat.Snapshot{Overall: heartbeat.StateBusy})

	if len(recorder.messages) != 2 {
		t.Fatalf("expected degraded and recovered messages, got %q", recorder.messages)
	}
	if !strings.Contains(recorder.messages[0], "degraded") || !strings.Contains(recorder.messages[1], "recovered") {
		t.Fatalf("unexpected messages: %q", recorder.messages)
	}

	disabled := &recordingNotifier{}
	newHeartbeatNotifier(disabled, false, testLogger()).HandleTransition(context.Background(), heartbeat.Transition{
		Component: heartbeat.ComponentAPI,
		FromState: heartbeat.StateHealthy,
		ToState:   heartbeat.StateDegraded,
	}, heartbeat.Snapshot{})
	if len(disabled.messages) != 0 {
		t.Fatalf("disabled notifier sent %q", disabled.messages)
	}
}

func TestRunMonitoredReportsFailure(t *testing.T) {
	beats := heartbeat.NewRegistry()
	failure := errors.New("listen tcp: address already in use")
	err := runMonitored(context.Background(), beats, heartbeat.ComponentAPI, 0, func(ctx context.Context) error {
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("unexpected error: %v", err)
	}
	status := beats.Snapshot(0).Components[0]
	if status.State != heartbeat.StateDegraded || !strings.Contains(status.Error, "address already in use") {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestWarnUnusedBecomePassword(t *testing.T) {
	cfg := writeProject(t)
	cfg.BecomePassword = "s3cret"

	commands, err := registry.Load(cfg)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if !warnUnusedBecomePassword(cfg, commands, testLogger()) {
		t.Fatal("expected a warning when no playbook command uses become")
	}

	cfg.PlaybookBecome = true
	commands, err = registry.Load(cfg)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if warnUnusedBecomePassword(cfg, commands, testLogger()) {
		t.Fatal("unexpected warning when the install command uses become")
	}
}
