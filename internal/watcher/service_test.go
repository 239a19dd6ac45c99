package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		op   fsnotify.Op
		want ChangeKind
		ok   bool
	}{
		{op: fsnotify.Write, want: ChangeModified, ok: true},
		{op: fsnotify.Create, want: ChangeModified, ok: true},
		{op: fsnotify.Remove, want: ChangeRemoved, ok: true},
		{op: fsnotify.Rename, want: ChangeRemoved, ok: true},
		{op: fsnotify.Chmod, ok: false},
	}
	for _, tc := range cases {
		change, ok := classify("/lab/inventory/windows.ini", tc.op)
		if ok != tc.ok {
			t.Fatalf("classify(%s) reported %v", tc.op, ok)
		}
		if ok && change.Kind != tc.want {
			t.Fatalf("classify(%s) = %s, want %s", tc.op, change.Kind, tc.want)
		}
	}
}

func TestServiceReportsTrackedFilesOnly(t *testing.T) {
	dir := t.TempDir()
	inventoryPath := filepath.Join(dir, "windows.ini")
	if err := os.WriteFile(inventoryPath, []byte("[windows_lab]\n"), 0o644); err != nil {
		t.Fatalf("write inventory: %v", err)
	}

	changes := make(chan Change, 8)
	service, err := New([]string{inventoryPath}, slog.New(slog.NewTextHandler(io.Discard, nil)), func(ctx context.Context, change Change) {
		changes <- change
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}
	if err := os.Remove(inventoryPath); err != nil {
		t.Fatalf("remove inventory: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case change := <-changes:
			if change.Path != inventoryPath {
				t.Fatalf("unexpected change path: %s", change.Path)
			}
			if change.Kind == ChangeRemoved {
				return
			}
		case <-deadline:
			t.Fatal("expected removal to be reported")
		}
	}
}
