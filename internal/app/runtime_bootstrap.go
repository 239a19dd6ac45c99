package app

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/lab-relay/internal/config"
	"github.com/dwizi/lab-relay/internal/connectors/telegram"
	"github.com/dwizi/lab-relay/internal/dispatch"
	"github.com/dwizi/lab-relay/internal/heartbeat"
	"github.com/dwizi/lab-relay/internal/httpapi"
	"github.com/dwizi/lab-relay/internal/notify"
	"github.com/dwizi/lab-relay/internal/registry"
	"github.com/dwizi/lab-relay/internal/runner"
	"github.com/dwizi/lab-relay/internal/watcher"
)

// New validates the configuration and loads the command registry before anything
// touches the network. Any failure is returned wrapping relayerr.ErrConfigurationMissing.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	settings := options{version: "dev"}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	commands, err := registry.Load(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("command registry loaded",
		"commands", len(commands.Entries()),
		"inventory", commands.InventoryPath(),
		"project", commands.ProjectPath(),
	)
	warnUnusedBecomePassword(cfg, commands, logger)

	var heartbeatRegistry *heartbeat.Registry
	if cfg.HeartbeatEnabled {
		heartbeatRegistry = heartbeat.NewRegistry()
		heartbeatRegistry.Starting(heartbeat.ComponentRuntime, "booting")
		heartbeatRegistry.Starting(heartbeat.ComponentTelegram, "initializing")
	}

	connector := telegram.New(
		cfg.TelegramToken,
		cfg.TelegramAPI,
		cfg.TelegramPoll,
		nil,
		commands,
		logger.With("connector", "telegram"),
		telegram.WithCommandSync(cfg.CommandSync),
		telegram.WithDropPendingUpdates(cfg.DropPending),
	)
	if heartbeatRegistry != nil {
		connector.SetHeartbeatReporter(heartbeatRegistry)
	}
	notifier := notify.New(connector, cfg.OperatorChatID, cfg.NotifyTimeout(), logger.With("component", "notify"))

	processRunner := settings.runner
	if processRunner == nil {
		processRunner = runner.New(runner.Options{Logger: logger.With("component", "runner")})
	}
	dispatchOptions := dispatch.Options{
		Config:   cfg,
		Registry: commands,
		Runner:   processRunner,
		Replies:  connector,
		Notifier: notifier,
		Logger:   logger,
	}
	if cfg.ProgressReplies {
		dispatchOptions.Progress = connector
	}
	dispatcher, err := dispatch.New(dispatchOptions)
	if err != nil {
		return nil, err
	}
	connector.SetDispatcher(dispatcher)

	rt := &Runtime{
		cfg:        cfg,
		logger:     logger,
		registry:   commands,
		dispatcher: dispatcher,
		connector:  connector,
		notifier:   notifier,
		heartbeat:  heartbeatRegistry,
	}

	if cfg.WatchFiles {
		rt.watcher, err = watcher.New(commands.Files(), logger.With("component", "watcher"), rt.handleFileChange)
		if err != nil {
			return nil, err
		}
		if heartbeatRegistry != nil {
			heartbeatRegistry.Starting(heartbeat.ComponentWatcher, "initializing")
		}
	}

	staleAfter := time.Duration(cfg.HeartbeatStaleSec) * time.Second
	if addr := strings.TrimSpace(cfg.HTTPAddr); addr != "" {
		rt.httpServer = &http.Server{
			Addr: addr,
			Handler: httpapi.NewRouter(httpapi.Dependencies{
				Config:              cfg,
				Commands:            commands,
				Logger:              logger.With("component", "api"),
				Heartbeat:           heartbeatRegistry,
				HeartbeatStaleAfter: staleAfter,
				Version:             settings.version,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if heartbeatRegistry != nil {
			heartbeatRegistry.Starting(heartbeat.ComponentAPI, "initializing")
		}
	}

	if heartbeatRegistry != nil {
		transitions := newHeartbeatNotifier(notifier, cfg.HeartbeatNotifyOperator, logger.With("component", "heartbeat-notifier"))
		rt.heartbeatMonitor = heartbeat.NewMonitor(heartbeatRegistry, heartbeat.MonitorConfig{
			Interval:     time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
			StaleAfter:   staleAfter,
			Logger:       logger.With("component", "heartbeat"),
			OnTransition: transitions.HandleTransition,
		})
	}
	return rt, nil
}

// NewLocal builds a dispatcher that prints replies and operator notifications to out
// instead of sending them to Telegram. The bot token is not required and the console
// user is always allowed to run commands.
func NewLocal(cfg config.Config, logger *slog.Logger, out io.Writer, opts ...Option) (*dispatch.Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.OperatorOnly = false
	settings := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	commands, err := registry.Load(cfg)
	if err != nil {
		return nil, err
	}
	processRunner := settings.runner
	if processRunner == nil {
		processRunner = runner.New(runner.Options{Logger: logger.With("component", "runner")})
	}
	operatorChat := strings.TrimSpace(cfg.OperatorChatID)
	if operatorChat == "" {
		operatorChat = "operator"
	}
	console := &consolePublisher{out: out}
	dispatchOptions := dispatch.Options{
		Config:   cfg,
		Registry: commands,
		Runner:   processRunner,
		Replies:  console,
		Notifier: notify.New(console, operatorChat, cfg.NotifyTimeout(), logger.With("component", "notify")),
		Logger:   logger,
	}
	if cfg.ProgressReplies {
		dispatchOptions.Progress = console
	}
	dispatcher, err := dispatch.New(dispatchOptions)
	if err != nil {
		return nil, fmt.Errorf("build local dispatcher: %w", err)
	}
	return dispatcher, nil
}

// warnUnusedBecomePassword flags a configured become password that no command passes on.
func warnUnusedBecomePassword(cfg config.Config, commands *registry.Registry, logger *slog.Logger) bool {
	if cfg.BecomePassword == "" {
		return false
	}
	for _, entry := range commands.Entries() {
		if entry.Kind == registry.KindPlaybook && entry.Become {
			return false
		}
	}
	logger.Warn("LAB_RELAY_BECOME_PASSWORD is set but no playbook command uses become",
		"hint", "set LAB_RELAY_PLAYBOOK_BECOME=true or become: true in the commands file")
	return true
}
