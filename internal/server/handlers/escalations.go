package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentpress/syncbridge/internal/server/response"
	"github.com/agentpress/syncbridge/pkg/coordinator"
	"github.com/agentpress/syncbridge/pkg/resolver"
)

// HandleListEscalations handles GET /api/v1/escalations.
// ?entity=type/id filters to one entity.
func (h *Handlers) HandleListEscalations(w http.ResponseWriter, r *http.Request) {
	escalations := h.coord.Escalations()

	if filter := r.URL.Query().Get("entity"); filter != "" {
		filtered := make([]resolver.Escalation, 0, len(escalations))
		for _, esc := range escalations {
			if esc.EntityID == filter {
				filtered = append(filtered, esc)
			}
		}
		escalations = filtered
	}

	response.OK(w, map[string]any{
		"escalations": escalations,
		"count":       len(escalations),
	})
}

// HandleGetEscalation handles GET /api/v1/escalations/{id}.
func (h *Handlers) HandleGetEscalation(w http.ResponseWriter, _ *http.Request, escalationID string) {
	esc, err := h.coord.Escalation(escalationID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, esc)
}

// HandleResolveEscalation handles POST /api/v1/escalations/{id}/resolve.
// The body is a coordinator.Decision; the decided value is written to both
// stores and recorded as an escalation_resolved event.
func (h *Handlers) HandleResolveEscalation(w http.ResponseWriter, r *http.Request, escalationID string) {
	var decision coordinator.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		response.BadRequest(w, "Invalid request body", err.Error())
		return
	}
	if err := decision.Validate(); err != nil {
		response.BadRequest(w, "Invalid decision", err.Error())
		return
	}

	res, err := h.coord.ResolveEscalation(r.Context(), escalationID, decision)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, res)
}
