// Package app wires the relay's components together and runs them.
package app

import (
	"log/slog"
	"net/http"

	"github.com/dwizi/lab-relay/internal/config"
	"github.com/dwizi/lab-relay/internal/connectors/telegram"
	"github.com/dwizi/lab-relay/internal/dispatch"
	"github.com/dwizi/lab-relay/internal/heartbeat"
	"github.com/dwizi/lab-relay/internal/notify"
	"github.com/dwizi/lab-relay/internal/registry"
	"github.com/dwizi/lab-relay/internal/watcher"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	registry         *registry.Registry
	dispatcher       *dispatch.Dispatcher
	connector        *telegram.Connector
	notifier         *notify.Notifier
	httpServer       *http.Server
	watcher          *watcher.Service
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

type options struct {
	runner  dispatch.ProcessRunner
	version string
}

type Option func(*options)

// WithProcessRunner replaces the subprocess runner, mainly for tests.
func WithProcessRunner(runner dispatch.ProcessRunner) Option {
	return func(opts *options) {
		opts.runner = runner
	}
}

func WithVersion(version string) Option {
	return func(opts *options) {
		opts.version = version
	}
}

func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}
