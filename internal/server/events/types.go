// Package events provides a unified feed of synchronization activity.
//
// The broker receives every ledger event the coordinator appends and fans
// it out to the registered transports (WebSocket, SSE) through a common
// pipeline, so each transport sees the same stream without duplicating
// distribution logic.
package events

import "time"

// EventType mirrors the ledger event types plus transport-level events.
type EventType string

// Feed event types.
const (
	// Ledger events (from the coordinator).
	SyncNoop           EventType = "sync.noop"
	ChangesApplied     EventType = "sync.changes_applied"
	ConflictResolved   EventType = "sync.conflict_resolved"
	EscalationRaised   EventType = "sync.escalation_raised"
	EscalationResolved EventType = "sync.escalation_resolved"
	SyncFailed         EventType = "sync.failed"

	// Client events (from transport layers).
	ClientConnected EventType = "client.connected"
)

// Event is one feed entry with type, timestamp, and payload.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
