package server

import "github.com/agentpress/syncbridge/internal/server/middleware"

// Config holds server configuration.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string

	// PathPrefix is the API route prefix. Defaults to "/api/v1".
	PathPrefix string

	// APIToken protects mutating endpoints when non-empty.
	APIToken string

	// SyncWorkers is the number of goroutines draining the trigger queue.
	SyncWorkers int

	// QueueSize bounds the trigger queue.
	QueueSize int

	// CORS configures cross-origin behavior.
	CORS middleware.CORSConfig
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.PathPrefix == "" {
		c.PathPrefix = "/api/v1"
	}
	if c.SyncWorkers <= 0 {
		c.SyncWorkers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS = middleware.DefaultCORSConfig()
	}
	return c
}
