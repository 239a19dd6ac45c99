// Package httpapi serves the relay's read-only health and info endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/lab-relay/internal/config"
	"github.com/dwizi/lab-relay/internal/heartbeat"
	"github.com/dwizi/lab-relay/internal/registry"
)

type CommandSource interface {
	Entries() []registry.Entry
}

type Dependencies struct {
	Config              config.Config
	Commands            CommandSource
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
	Version             string
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.handleHealth)
	mux.HandleFunc("GET /readyz", rt.handleReady)
	mux.HandleFunc("GET /api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("GET /api/v1/info", rt.handleInfo)
	mux.HandleFunc("GET /api/v1/commands", rt.handleCommands)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
