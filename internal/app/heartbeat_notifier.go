package app

import (
	"context"
	"log/slog"

	"github.com/dwizi/lab-relay/internal/heartbeat"
)

type operatorNotifier interface {
	Notify(ctx context.Context, text string)
}

type heartbeatNotifier struct {
	notifier operatorNotifier
	enabled  bool
	logger   *slog.Logger
}

func newHeartbeatNotifier(notifier operatorNotifier, enabled bool, logger *slog.Logger) *heartbeatNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &heartbeatNotifier{
		notifier: notifier,
		enabled:  enabled,
		logger:   logger,
	}
}

// HandleTransition tells the operator when a component degrades or recovers.
func (n *heartbeatNotifier) HandleTransition(ctx context.Context, transition heartbeat.Transition, snapshot heartbeat.Snapshot) {
	message := transition.OperatorMessage(snapshot.Overall)
	if message == "" {
		return
	}
	if transition.Degraded() {
		n.logger.Warn("component degraded",
			"heartbeat_component", transition.Component,
			"state", string(transition.ToState),
			"error", transition.Error,
		)
	} else {
		n.logger.Info("component recovered", "heartbeat_component", transition.Component)
	}
	if n.notifier == nil || !n.enabled {
		return
	}
	n.notifier.Notify(ctx, message)
}
