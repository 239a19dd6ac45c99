package httpapi

import "net/http"

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady answers 200 only while the heartbeat reports the relay as working.
func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
	if !snapshot.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not-ready",
			"overall": string(snapshot.Overall),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "overall": string(snapshot.Overall)})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter))
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          "lab-relay",
		"version":       r.deps.Version,
		"environment":   r.deps.Config.Environment,
		"target_group":  r.deps.Config.TargetGroup,
		"operator_only": r.deps.Config.OperatorOnly,
	})
}

type commandItem struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Kind           string `json:"kind"`
	TargetGroup    string `json:"target_group,omitempty"`
	Playbook       string `json:"playbook,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Become         bool   `json:"become,omitempty"`
}

func (r *router) handleCommands(w http.ResponseWriter, req *http.Request) {
	if r.deps.Commands == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []commandItem{}, "count": 0})
		return
	}
	entries := r.deps.Commands.Entries()
	items := make([]commandItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, commandItem{
			Name:           entry.Name,
			Description:    entry.Description,
			Kind:           entry.Kind.String(),
			TargetGroup:    entry.TargetGroup,
			Playbook:       entry.PlaybookPath,
			TimeoutSeconds: int(entry.Timeout.Seconds()),
			Become:         entry.Become,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}
