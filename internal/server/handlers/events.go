package handlers

import (
	"net/http"
	"strconv"

	"github.com/agentpress/syncbridge/internal/server/response"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/eventstore"
)

// HandleEntityEvents handles GET /api/v1/entities/{type}/{id}/events.
// Replays the entity's ledger in version order; ?from=N starts at that
// version.
func (h *Handlers) HandleEntityEvents(w http.ResponseWriter, r *http.Request, entityType, entityID string) {
	id := entity.ID{Type: entityType, ID: entityID}

	var fromVersion int64 = 1
	if from := r.URL.Query().Get("from"); from != "" {
		parsed, err := strconv.ParseInt(from, 10, 64)
		if err != nil || parsed < 1 {
			response.BadRequest(w, "Invalid from parameter", "from must be a positive integer")
			return
		}
		fromVersion = parsed
	}

	events, err := h.ledger.Replay(r.Context(), id.String(), fromVersion)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}

	response.OK(w, map[string]any{
		"entity_id": id.String(),
		"events":    events,
		"count":     len(events),
	})
}
