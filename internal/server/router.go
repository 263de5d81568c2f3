package server

import (
	"net/http"
	"strings"

	"github.com/agentpress/syncbridge/internal/server/handlers"
	"github.com/agentpress/syncbridge/internal/server/middleware"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(
		s.coord,
		s.ledger,
		s,
		s.wsHub,
		s.sseBroadcaster,
		s.upgrader,
		s.logger,
	)

	s.registerRoutes(mux, h)

	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix

	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Public health endpoints (no auth required)
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc(prefix+"/health", h.HandleHealth)
	mux.HandleFunc(prefix+"/ready", h.HandleReady)

	// Sync trigger
	mux.HandleFunc(prefix+"/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.HandleSync(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// Ledger replay: /entities/{type}/{id}/events
	mux.HandleFunc(prefix+"/entities/", func(w http.ResponseWriter, r *http.Request) {
		parts := splitPath(r.URL.Path[len(prefix+"/entities/"):])
		if len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodGet {
			h.HandleEntityEvents(w, r, parts[0], parts[1])
			return
		}
		http.Error(w, "Not found", http.StatusNotFound)
	})

	// Escalations
	mux.HandleFunc(prefix+"/escalations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.HandleListEscalations(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc(prefix+"/escalations/", func(w http.ResponseWriter, r *http.Request) {
		parts := splitPath(r.URL.Path[len(prefix+"/escalations/"):])
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			h.HandleGetEscalation(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "resolve" && r.Method == http.MethodPost:
			h.HandleResolveEscalation(w, r, parts[0])
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})

	// Live event feed
	mux.HandleFunc(prefix+"/events/stream", h.HandleEventStream)
	mux.HandleFunc(prefix+"/events/ws", h.HandleWebSocket)
}

// applyMiddleware wraps the mux in the standard middleware chain.
func (s *Server) applyMiddleware(mux *http.ServeMux) http.Handler {
	auth := middleware.DefaultAuthConfig()
	auth.Token = s.config.APIToken

	chain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Logger(s.logger),
		middleware.CORS(s.config.CORS),
		middleware.Auth(auth, s.logger),
	)
	return chain(mux)
}

// splitPath splits a URL path remainder into non-empty segments.
func splitPath(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
