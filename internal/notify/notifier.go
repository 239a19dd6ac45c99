// Package notify sends best-effort messages to the fixed operator chat.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/lab-relay/internal/connectors"
)

const (
	defaultTimeout = 8 * time.Second
	prefix         = "🔔 "
)

type Notifier struct {
	publisher connectors.Publisher
	chatID    string
	timeout   time.Duration
	logger    *slog.Logger
}

func New(publisher connectors.Publisher, operatorChatID string, timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		publisher: publisher,
		chatID:    strings.TrimSpace(operatorChatID),
		timeout:   timeout,
		logger:    logger,
	}
}

// Notify delivers text to the operator chat. Delivery failures, panics included, are
// logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, text string) {
	if n == nil || n.publisher == nil || n.chatID == "" {
		return
	}
	message := strings.TrimSpace(text)
	if message == "" {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			n.logger.Error("operator notification panicked", "panic", recovered)
		}
	}()
	// The requester's context may already be done; the notification still goes out.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(notifyCtx, n.chatID, prefix+message); err != nil {
		n.logger.Error("operator notification failed", "chat_id", n.chatID, "error", err)
		return
	}
	n.logger.Debug("operator notified", "chat_id", n.chatID)
}
