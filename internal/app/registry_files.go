package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dwizi/lab-relay/internal/inventory"
	"github.com/dwizi/lab-relay/internal/playbook"
	"github.com/dwizi/lab-relay/internal/watcher"
)

// handleFileChange warns the operator when a file behind the registry disappears or
// no longer parses. The registry itself is never reloaded while running.
func (r *Runtime) handleFileChange(ctx context.Context, change watcher.Change) {
	problem := checkRegistryFile(change, r.registry.InventoryPath())
	if problem == "" {
		r.logger.Info("registry file updated", "path", change.Path)
		return
	}
	r.logger.Warn("registry file problem", "path", change.Path, "problem", problem)
	if r.notifier != nil {
		r.notifier.Notify(ctx, problem)
	}
}

func checkRegistryFile(change watcher.Change, inventoryPath string) string {
	if change.Kind == watcher.ChangeRemoved {
		return fmt.Sprintf("⚠️ Registered file removed: `%s`\nCommands using it will fail until it is restored.", change.Path)
	}
	if absolute, err := filepath.Abs(inventoryPath); err == nil {
		inventoryPath = absolute
	}
	var err error
	if change.Path == inventoryPath {
		_, err = inventory.Load(change.Path)
	} else {
		_, err = playbook.Load(change.Path)
	}
	if err != nil {
		return fmt.Sprintf("⚠️ Registered file no longer parses: `%s`\n%v", change.Path, err)
	}
	return ""
}
