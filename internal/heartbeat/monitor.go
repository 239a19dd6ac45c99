package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Transition struct {
	Component string `json:"component"`
	FromState State  `json:"from_state"`
	ToState   State  `json:"to_state"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Degraded reports a move from a working state into degraded or stale.
func (t Transition) Degraded() bool {
	return !IsDegradedState(t.FromState) && IsDegradedState(t.ToState)
}

// Recovered reports a move from degraded or stale back to a working state.
func (t Transition) Recovered() bool {
	return IsDegradedState(t.FromState) && (t.ToState == StateHealthy || t.ToState == StateBusy)
}

// OperatorMessage renders a degraded or recovered transition for the operator chat.
// Other transitions render as an empty string.
func (t Transition) OperatorMessage(overall State) string {
	var title string
	switch {
	case t.Degraded():
		title = "⚠️ Relay component degraded"
	case t.Recovered():
		title = "✅ Relay component recovered"
	default:
		return ""
	}
	var b strings.Builder
	b.WriteString(title)
	fmt.Fprintf(&b, "\n- component: `%s`", t.Component)
	fmt.Fprintf(&b, "\n- state: `%s` -> `%s`", t.FromState, t.ToState)
	fmt.Fprintf(&b, "\n- overall: `%s`", overall)
	if detail := singleLine(t.Message, 300); detail != "" {
		b.WriteString("\n- detail: " + detail)
	}
	if errorText := singleLine(t.Error, 300); errorText != "" {
		b.WriteString("\n- error: " + errorText)
	}
	return b.String()
}

type MonitorConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	Logger       *slog.Logger
	OnTransition func(context.Context, Transition, Snapshot)
}

type Monitor struct {
	registry     *Registry
	interval     time.Duration
	staleAfter   time.Duration
	logger       *slog.Logger
	onTransition func(context.Context, Transition, Snapshot)
}

func NewMonitor(registry *Registry, cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry:     registry,
		interval:     interval,
		staleAfter:   cfg.StaleAfter,
		logger:       logger,
		onTransition: cfg.OnTransition,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	if m.registry == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started", "interval", m.interval.String(), "stale_after", m.staleAfter.String())

	previous := map[string]State{}
	for {
		m.evaluate(ctx, m.registry.Snapshot(m.staleAfter), previous)
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, snapshot Snapshot, previous map[string]State) {
	for _, item := range snapshot.Components {
		before, seen := previous[item.Name]
		previous[item.Name] = item.State
		if !seen || before == item.State {
			continue
		}
		transition := Transition{
			Component: item.Name,
			FromState: before,
			ToState:   item.State,
			Message:   item.Message,
			Error:     item.Error,
		}
		m.logger.Info("heartbeat transition",
			"heartbeat_component", transition.Component,
			"from", string(transition.FromState),
			"to", string(transition.ToState),
		)
		if m.onTransition != nil {
			m.onTransition(ctx, transition, snapshot)
		}
	}
}

func singleLine(text string, limit int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) > limit {
		return strings.TrimSpace(collapsed[:limit]) + "..."
	}
	return collapsed
}
