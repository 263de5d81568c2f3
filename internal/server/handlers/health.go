package handlers

import (
	"net/http"

	"github.com/agentpress/syncbridge/internal/server/response"
)

// HandleHealth handles GET /health (liveness probe).
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "syncbridge-api",
		"version": "v1",
	})
}

// HandleReady handles GET /api/v1/ready.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	// The ledger is the one dependency every operation needs.
	if _, err := h.ledger.Replay(r.Context(), "probe/ready", 1); err != nil {
		response.ServiceUnavailable(w, "Event ledger not available")
		return
	}

	response.OK(w, map[string]any{
		"status":              "ready",
		"pending_escalations": len(h.coord.Escalations()),
		"websocket_clients":   h.wsHub.ClientCount(),
		"sse_clients":         h.sseBroadcaster.ClientCount(),
	})
}
