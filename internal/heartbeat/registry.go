// Package heartbeat tracks the liveness of the relay's long-running components.
package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type State string

const (
	StateStarting State = "starting"
	StateHealthy  State = "healthy"
	// StateBusy marks a component blocked on a long command run. It never goes stale.
	StateBusy     State = "busy"
	StateDegraded State = "degraded"
	StateDisabled State = "disabled"
	StateStopped  State = "stopped"
	StateStale    State = "stale"

	OverallIdle    State = "idle"
	OverallUnknown State = "unknown"
)

const (
	ComponentTelegram = "connector:telegram"
	ComponentWatcher  = "watcher"
	ComponentAPI      = "api"
	ComponentRuntime  = "runtime"
)

type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Busy(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          State  `json:"state"`
	BaseState      State  `json:"base_state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         State             `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

// Ready reports whether the relay can currently take commands.
func (s Snapshot) Ready() bool {
	return s.Overall == StateHealthy || s.Overall == StateBusy
}

type componentRecord struct {
	name       string
	state      State
	message    string
	lastError  string
	lastBeatAt time.Time
	updatedAt  time.Time
}

type Registry struct {
	mu         sync.RWMutex
	components map[string]componentRecord
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]componentRecord{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(component, message string) {
	r.set(component, StateStarting, message, "", false)
}

func (r *Registry) Beat(component, message string) {
	r.set(component, StateHealthy, message, "", true)
}

func (r *Registry) Busy(component, message string) {
	r.set(component, StateBusy, message, "", true)
}

func (r *Registry) Degrade(component, message string, err error) {
	errorText := ""
	if err != nil {
		errorText = err.Error()
	}
	r.set(component, StateDegraded, message, errorText, false)
}

func (r *Registry) Disabled(component, message string) {
	r.set(component, StateDisabled, message, "", false)
}

func (r *Registry) Stopped(component, message string) {
	r.set(component, StateStopped, message, "", false)
}

func (r *Registry) set(component string, state State, message, errorText string, beat bool) {
	name := normalizeComponent(component)
	if name == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.components[name]
	record.name = name
	record.state = state
	record.message = strings.TrimSpace(message)
	record.lastError = strings.TrimSpace(errorText)
	record.updatedAt = now
	if beat || record.lastBeatAt.IsZero() {
		record.lastBeatAt = now
	}
	r.components[name] = record
}

// Snapshot reports every component, marking healthy or starting ones stale when their
// last beat is older than staleAfter. A zero staleAfter disables staleness.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ComponentStatus, 0, len(r.components))
	for _, record := range r.components {
		status := ComponentStatus{
			Name:          record.name,
			BaseState:     record.state,
			State:         record.state,
			Message:       record.message,
			Error:         record.lastError,
			UpdatedAtUnix: record.updatedAt.Unix(),
		}
		if !record.lastBeatAt.IsZero() {
			status.LastBeatAtUnix = record.lastBeatAt.Unix()
		}
		if staleAfter > 0 && canBecomeStale(record.state) && now.Sub(record.lastBeatAt) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		results = append(results, status)
	}
	sort.Slice(results, func(left, right int) bool {
		return results[left].Name < results[right].Name
	})
	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         computeOverall(results),
		Components:      results,
	}
}

func IsDegradedState(state State) bool {
	return state == StateDegraded || state == StateStale
}

func normalizeComponent(component string) string {
	return strings.ToLower(strings.TrimSpace(component))
}

func canBecomeStale(state State) bool {
	return state == StateHealthy || state == StateStarting
}

func computeOverall(items []ComponentStatus) State {
	if len(items) == 0 {
		return OverallUnknown
	}
	var starting, busy, active bool
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			starting = true
		case StateBusy:
			busy = true
		case StateHealthy:
			active = true
		}
	}
	switch {
	case starting:
		return StateStarting
	case busy:
		return StateBusy
	case active:
		return StateHealthy
	default:
		return OverallIdle
	}
}
