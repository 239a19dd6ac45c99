// Package watcher reports edits to the files the command registry depends on.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

type ChangeKind int

const (
	ChangeModified ChangeKind = iota + 1
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

type Change struct {
	Path string
	Kind ChangeKind
}

type Service struct {
	files    map[string]struct{}
	dirs     []string
	logger   *slog.Logger
	onChange func(context.Context, Change)
	watcher  *fsnotify.Watcher
}

// New watches the directories holding files. Only events for the listed files are
// reported, so editors that save through a rename are still seen.
func New(files []string, logger *slog.Logger, onChange func(context.Context, Change)) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tracked := map[string]struct{}{}
	dirSet := map[string]struct{}{}
	for _, file := range files {
		if strings.TrimSpace(file) == "" {
			continue
		}
		clean, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("resolve watched file %s: %w", file, err)
		}
		tracked[clean] = struct{}{}
		dirSet[filepath.Dir(clean)] = struct{}{}
	}
	dirs := make([]string, 0, len(dirSet))
	for dir := range dirSet {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Service{
		files:    tracked,
		dirs:     dirs,
		logger:   logger,
		onChange: onChange,
		watcher:  fileWatcher,
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()

	for _, dir := range s.dirs {
		if err := s.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch path %s: %w", dir, err)
		}
	}
	s.logger.Info("registry file watcher started", "dirs", strings.Join(s.dirs, ","), "files", len(s.files))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("registry file watcher stopped")
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				s.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, event fsnotify.Event) {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if _, tracked := s.files[path]; !tracked {
		return
	}
	change, ok := classify(path, event.Op)
	if !ok {
		return
	}
	s.logger.Info("registry file changed", "path", path, "op", event.Op.String(), "change", change.Kind.String())
	if s.onChange != nil {
		s.onChange(ctx, change)
	}
}

func classify(path string, op fsnotify.Op) (Change, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Change{Path: path, Kind: ChangeRemoved}, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Create):
		return Change{Path: path, Kind: ChangeModified}, true
	default:
		return Change{}, false
	}
}
