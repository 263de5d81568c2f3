// Package server provides the HTTP server for the syncbridge API: the
// sync trigger contract, the escalation API, the ledger replay endpoint,
// and the live event feed.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentpress/syncbridge/internal/server/events"
	"github.com/agentpress/syncbridge/internal/server/events/adapters"
	"github.com/agentpress/syncbridge/internal/server/sse"
	ws "github.com/agentpress/syncbridge/internal/server/websocket"
	"github.com/agentpress/syncbridge/pkg/coordinator"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/eventstore"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	coord          coordinator.Coordinator
	ledger         eventstore.Store
	broker         *events.Broker
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger
	config         Config
	ctx            context.Context
	cancel         context.CancelFunc
	startTime      time.Time

	jobs     chan entity.ID
	inflight sync.Map
	workers  sync.WaitGroup
}

// LedgerPublisher adapts the broker to the coordinator's Publisher
// interface so durable ledger events feed live subscribers.
func LedgerPublisher(broker *events.Broker) coordinator.Publisher {
	return ledgerPublisher{broker: broker}
}

type ledgerPublisher struct {
	broker *events.Broker
}

func (p ledgerPublisher) Publish(ev eventstore.Event) {
	p.broker.PublishLedger(ev)
}

// New creates a new server instance. The broker must be the same one the
// coordinator publishes to.
func New(coord coordinator.Coordinator, ledger eventstore.Store, broker *events.Broker, logger *zerolog.Logger, cfg Config) *Server {
	cfg = cfg.withDefaults()

	wsHub := ws.NewHub(logger)
	sseBroadcaster := sse.NewBroadcaster(logger)

	broker.Subscribe(adapters.NewWebSocketSubscriber(wsHub))
	broker.Subscribe(adapters.NewSSESubscriber(sseBroadcaster))

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		coord:          coord,
		ledger:         ledger,
		broker:         broker,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // Allow all origins for WebSocket
			},
		},
		logger:    logger,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		jobs:      make(chan entity.ID, cfg.QueueSize),
	}
}

// Start starts background services: broker, transports, sync workers.
func (s *Server) Start() {
	go s.broker.Run(s.ctx)
	go s.wsHub.Run(s.ctx)
	go s.sseBroadcaster.Run(s.ctx)

	for i := 0; i < s.config.SyncWorkers; i++ {
		s.workers.Add(1)
		go s.runWorker()
	}

	s.logger.Info().
		Int("workers", s.config.SyncWorkers).
		Msg("Server background services started")
}

// Enqueue implements handlers.SyncTrigger. It returns false when a run
// for the entity is already queued or in flight, or the queue is full.
func (s *Server) Enqueue(id entity.ID) bool {
	key := id.String()
	if _, loaded := s.inflight.LoadOrStore(key, struct{}{}); loaded {
		return false
	}

	select {
	case s.jobs <- id:
		return true
	default:
		s.inflight.Delete(key)
		s.logger.Warn().Str("entity_id", key).Msg("Sync queue full, trigger rejected")
		return false
	}
}

// runWorker drains the trigger queue. Per-entity serialization is already
// guaranteed by the lock manager; the inflight map only deduplicates
// triggers within this process.
func (s *Server) runWorker() {
	defer s.workers.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.jobs:
			res, err := s.coord.Sync(s.ctx, id)
			s.inflight.Delete(id.String())
			if err != nil {
				s.logger.Error().Err(err).Str("entity_id", id.String()).Msg("Queued sync run failed")
				continue
			}
			s.logger.Info().
				Str("entity_id", id.String()).
				Str("outcome", string(res.Outcome)).
				Msg("Queued sync run finished")
		}
	}
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Shutdown gracefully shuts down background services.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server background services")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Background services shut down successfully")
	case <-ctx.Done():
		s.logger.Warn().Msg("Background services shutdown timed out")
	}
	return nil
}

// Broker returns the event broker for publishing events.
func (s *Server) Broker() *events.Broker {
	return s.broker
}

// StartTime returns the server start time for uptime calculations.
func (s *Server) StartTime() time.Time {
	return s.startTime
}
