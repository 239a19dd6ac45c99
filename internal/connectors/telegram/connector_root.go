package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/lab-relay/internal/dispatch"
	"github.com/dwizi/lab-relay/internal/heartbeat"
	"github.com/dwizi/lab-relay/internal/registry"
)

type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request) dispatch.Trace
}

// CommandSource lists the commands advertised in the Telegram command menu.
type CommandSource interface {
	Entries() []registry.Entry
}

type Connector struct {
	token        string
	apiBase      string
	pollSeconds  int
	commandSync  bool
	dropPending  bool
	dispatcher   Dispatcher
	commands     CommandSource
	httpClient   *http.Client
	logger       *slog.Logger
	botUsername  string
	offset       int64
	reporter     heartbeat.Reporter
	retryBackoff time.Duration
}

type Option func(*Connector)

func WithCommandSync(enabled bool) Option {
	return func(connector *Connector) {
		connector.commandSync = enabled
	}
}

// WithDropPendingUpdates discards updates queued while the relay was offline.
func WithDropPendingUpdates(enabled bool) Option {
	return func(connector *Connector) {
		connector.dropPending = enabled
	}
}

func New(token, apiBase string, pollSeconds int, dispatcher Dispatcher, commands CommandSource, logger *slog.Logger, opts ...Option) *Connector {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://api.telegram.org"
	}
	if pollSeconds < 1 {
		pollSeconds = 25
	}
	if logger == nil {
		logger = slog.Default()
	}
	connector := &Connector{
		token:       strings.TrimSpace(token),
		apiBase:     strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		pollSeconds: pollSeconds,
		commandSync: true,
		dropPending: true,
		dispatcher:  dispatcher,
		commands:    commands,
		httpClient: &http.Client{
			Timeout: time.Duration(pollSeconds+10) * time.Second,
		},
		logger:       logger,
		retryBackoff: 1500 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(connector)
		}
	}
	return connector
}

func (c *Connector) Name() string {
	return "telegram"
}

// SetDispatcher attaches the command handler. The dispatcher publishes replies through
// this connector, so it is usually built after it.
func (c *Connector) SetDispatcher(dispatcher Dispatcher) {
	c.dispatcher = dispatcher
}

func (c *Connector) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	c.reporter = reporter
}

func (c *Connector) BotUsername() string {
	return c.botUsername
}
