package events

// Subscriber is an interface for feed consumers.
// Implementations adapt the unified stream to specific transport
// mechanisms (WebSocket, SSE, webhooks, etc.).
type Subscriber interface {
	// Send delivers an event to the subscriber.
	// Implementations should be non-blocking and handle errors gracefully.
	Send(Event) error

	// Close cleanly shuts down the subscriber.
	Close() error
}
