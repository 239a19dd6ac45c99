package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/lab-relay/internal/dispatch"
	"github.com/dwizi/lab-relay/internal/heartbeat"
	"github.com/dwizi/lab-relay/internal/registry"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []dispatch.Request
	handled  chan dispatch.Request
}

func (f *fakeDispatcher) Handle(ctx context.Context, req dispatch.Request) dispatch.Trace {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.handled != nil {
		f.handled <- req
	}
	return dispatch.Trace{RequestID: "req-1", Command: req.Text}
}

type fakeCommands []registry.Entry

func (f fakeCommands) Entries() []registry.Entry {
	return f
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSyncCommandsRegistersRegistryEntries(t *testing.T) {
	var payload struct {
		Commands []struct {
			Command     string `json:"command"`
			Description string `json:"description"`
		} `json:"commands"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !strings.HasSuffix(req.URL.Path, "/setMyCommands") {
			http.NotFound(w, req)
			return
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	commands := fakeCommands{
		{Name: "install_software", Description: "Install common software on online PCs", Kind: registry.KindPlaybook},
		{Name: "lab_status", Kind: registry.KindStatus},
	}
	connector := New("test-token", server.URL, 1, &fakeDispatcher{}, commands, testLogger())
	if err := connector.syncCommands(context.Background()); err != nil {
		t.Fatalf("syncCommands failed: %v", err)
	}
	if len(payload.Commands) != 2 {
		t.Fatalf("expected two commands, got %+v", payload.Commands)
	}
	if payload.Commands[0].Command != "install_software" || payload.Commands[0].Description != "Install common software on online PCs" {
		t.Fatalf("unexpected first command: %+v", payload.Commands[0])
	}
	if payload.Commands[1].Description != "Lab relay command" {
		t.Fatalf("expected fallback description, got %q", payload.Commands[1].Description)
	}
}

func TestStartDispatchesCommands(t *testing.T) {
	var (
		mu          sync.Mutex
		calls       []string
		updatesSent bool
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		calls = append(calls, req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:])
		first := !updatesSent
		mu.Unlock()
		switch {
		case strings.HasSuffix(req.URL.Path, "/getMe"):
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"username": "lab_bot"}})
		case strings.HasSuffix(req.URL.Path, "/getUpdates"):
			if !first {
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": []any{}})
				return
			}
			mu.Lock()
			updatesSent = true
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"result": []any{
					map[string]any{"update_id": 10, "message": map[string]any{"message_id": 1, "from": map[string]any{"id": 7}, "chat": map[string]any{"id": 42, "type": "private"}, "text": "hello there"}},
					map[string]any{"update_id": 11, "message": map[string]any{"message_id": 2, "from": map[string]any{"id": 7}, "chat": map[string]any{"id": 42, "type": "group"}, "text": "/lab_status@other_bot"}},
					map[string]any{"update_id": 12, "message": map[string]any{"message_id": 3, "from": map[string]any{"id": 7}, "chat": map[string]any{"id": 42, "type": "group"}, "text": "/windows_ping@lab_bot"}},
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	defer server.Close()

	dispatcher := &fakeDispatcher{handled: make(chan dispatch.Request, 4)}
	beats := heartbeat.NewRegistry()
	connector := New("test-token", server.URL, 1, dispatcher, fakeCommands{{Name: "windows_ping"}}, testLogger())
	connector.SetHeartbeatReporter(beats)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- connector.Start(ctx)
	}()

	var req dispatch.Request
	select {
	case req = <-dispatcher.handled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a dispatched command")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned error: %v", err)
	}

	if req.ChatID != "42" || req.UserID != "7" || req.Text != "/windows_ping@lab_bot" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(dispatcher.requests) != 1 {
		t.Fatalf("plain text and foreign commands must be ignored: %+v", dispatcher.requests)
	}
	if connector.BotUsername() != "lab_bot" {
		t.Fatalf("unexpected bot username: %q", connector.BotUsername())
	}
	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(calls, ",")
	if !strings.HasPrefix(joined, "getMe,deleteWebhook,setMyCommands,getUpdates") {
		t.Fatalf("unexpected startup sequence: %s", joined)
	}
	snapshot := beats.Snapshot(0)
	if len(snapshot.Components) != 1 || snapshot.Components[0].State != heartbeat.StateStopped {
		t.Fatalf("unexpected heartbeat snapshot: %+v", snapshot)
	}
}

func TestStartWithoutTokenIsDisabled(t *testing.T) {
	beats := heartbeat.NewRegistry()
	connector := New("", "http://127.0.0.1:1", 1, &fakeDispatcher{}, nil, testLogger())
	connector.SetHeartbeatReporter(beats)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := connector.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state := beats.Snapshot(0).Components[0].State; state != heartbeat.StateDisabled {
		t.Fatalf("expected disabled state, got %s", state)
	}
}

func TestPublishRetriesAsPlainTextWhenMarkdownIsRejected(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()
		if _, markdown := payload["parse_mode"]; markdown {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":          false,
				"error_code":  400,
				"description": "Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 12",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	connector := New("test-token", server.URL, 1, &fakeDispatcher{}, nil, testLogger())
	if err := connector.Publish(context.Background(), "42", "host pc_01 *failed"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 2 {
		t.Fatalf("expected markdown attempt and plain retry, got %d", len(payloads))
	}
	if payloads[0]["parse_mode"] != "Markdown" {
		t.Fatalf("first attempt should use markdown: %+v", payloads[0])
	}
	if payloads[1]["text"] != "host pc_01 *failed" || payloads[1]["chat_id"] != float64(42) {
		t.Fatalf("unexpected retry payload: %+v", payloads[1])
	}
}

func TestPublishReturnsTelegramErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  403,
			"description": "Forbidden: bot was blocked by the user",
		})
	}))
	defer server.Close()

	connector := New("test-token", server.URL, 1, &fakeDispatcher{}, nil, testLogger())
	err := connector.Publish(context.Background(), "42", "hello")
	if err == nil || !strings.Contains(err.Error(), "bot was blocked") {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestPublishRejectsInvalidChatID(t *testing.T) {
	connector := New("test-token", "http://127.0.0.1:1", 1, &fakeDispatcher{}, nil, testLogger())
	if err := connector.Publish(context.Background(), "not-a-chat", "hello"); err == nil {
		t.Fatal("expected parse error")
	}
	if err := connector.Publish(context.Background(), "42", "   "); err != nil {
		t.Fatalf("empty messages should be skipped, got %v", err)
	}
}

func TestCommandAddressee(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{text: "/lab_status", want: ""},
		{text: "/lab_status@Lab_Bot now", want: "lab_bot"},
		{text: "", want: ""},
	}
	for _, tc := range cases {
		if got := commandAddressee(tc.text); got != tc.want {
			t.Fatalf("commandAddressee(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
