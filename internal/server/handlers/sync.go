package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentpress/syncbridge/internal/server/response"
	"github.com/agentpress/syncbridge/pkg/coordinator"
	"github.com/agentpress/syncbridge/pkg/entity"
)

// syncRequest is the trigger contract body.
type syncRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// HandleSync handles POST /api/v1/sync.
//
// Default behavior queues the run and returns 202. With ?wait=true the run
// executes inline and the full result comes back in the response. A run
// already in flight for the entity returns 409.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err.Error())
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		response.BadRequest(w, "Missing entity identity", "entity_type and entity_id are required")
		return
	}
	id := entity.ID{Type: req.EntityType, ID: req.EntityID}

	if r.URL.Query().Get("wait") == "true" {
		res, err := h.coord.Sync(r.Context(), id)
		switch {
		case res != nil && res.Outcome == coordinator.OutcomeDeferred:
			response.Conflict(w, "SYNC_IN_PROGRESS", "Entity is being synchronized by another run", res.Reason)
		case err != nil:
			response.FromError(w, err)
		default:
			response.OK(w, res)
		}
		return
	}

	if !h.trigger.Enqueue(id) {
		response.Conflict(w, "SYNC_IN_PROGRESS", "A run for this entity is already queued or in flight", id.String())
		return
	}

	response.Accepted(w, map[string]any{
		"entity_id": id.String(),
		"status":    "queued",
	})
}
