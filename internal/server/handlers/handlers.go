// Package handlers implements the syncbridge HTTP API endpoints.
package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentpress/syncbridge/internal/server/sse"
	ws "github.com/agentpress/syncbridge/internal/server/websocket"
	"github.com/agentpress/syncbridge/pkg/coordinator"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/eventstore"
)

// SyncTrigger queues asynchronous sync runs. Enqueue returns false when a
// run for the entity is already queued or in flight.
type SyncTrigger interface {
	Enqueue(id entity.ID) bool
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	coord          coordinator.Coordinator
	ledger         eventstore.Store
	trigger        SyncTrigger
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger
}

// New creates a new Handlers instance.
func New(
	coord coordinator.Coordinator,
	ledger eventstore.Store,
	trigger SyncTrigger,
	wsHub *ws.Hub,
	sseBroadcaster *sse.Broadcaster,
	upgrader websocket.Upgrader,
	logger *zerolog.Logger,
) *Handlers {
	return &Handlers{
		coord:          coord,
		ledger:         ledger,
		trigger:        trigger,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		upgrader:       upgrader,
		logger:         logger,
	}
}

// HandleEventStream handles GET /api/v1/events/stream (SSE).
func (h *Handlers) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	h.sseBroadcaster.ServeHTTP(w, r)
}

// HandleWebSocket handles GET /api/v1/events/ws.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(uuid.NewString(), h.wsHub, conn)
	client.Register()

	go client.WritePump()
	go client.ReadPump()
}
