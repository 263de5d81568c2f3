// Package eventstore persists the append-only synchronization ledger.
// Every synchronization run terminates in exactly one event per touched
// entity, versioned strictly monotonically per entity, so the ledger is a
// complete, replayable history of what each run observed and did.
package eventstore

import (
	"context"
	"encoding/json"

	"github.com/agentstation/utc"

	"github.com/agentpress/syncbridge/pkg/entity"
)

// Type classifies a ledger event.
type Type string

// Ledger event types.
const (
	// TypeSyncNoop records a run that found no divergence.
	TypeSyncNoop Type = "sync_noop"

	// TypeChangesApplied records a run that wrote resolved state to at
	// least one store.
	TypeChangesApplied Type = "changes_applied"

	// TypeConflictResolved records an automatic conflict resolution.
	TypeConflictResolved Type = "conflict_resolved"

	// TypeEscalationRaised records a conflict deferred to a human.
	TypeEscalationRaised Type = "escalation_raised"

	// TypeEscalationResolved records a human decision on a previously
	// raised escalation.
	TypeEscalationResolved Type = "escalation_resolved"

	// TypeSyncFailed records a run aborted by an error after work began.
	TypeSyncFailed Type = "sync_failed"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeSyncNoop, TypeChangesApplied, TypeConflictResolved,
		TypeEscalationRaised, TypeEscalationResolved, TypeSyncFailed:
		return true
	}
	return false
}

// Event is one immutable ledger entry. Version is per-entity and strictly
// monotonic starting at 1; there are never gaps or duplicates.
type Event struct {
	EventID   string          `json:"event_id"`
	EntityID  string          `json:"entity_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Version   int64           `json:"version"`
	Timestamp utc.Time        `json:"timestamp"`
}

// Snapshot captures an entity's resolved state as of a ledger version, so
// replay can start from the snapshot instead of version 1.
type Snapshot struct {
	EntityID string       `json:"entity_id"`
	Version  int64        `json:"version"`
	State    entity.State `json:"state"`
	TakenAt  utc.Time     `json:"taken_at"`
}

// Store is the append-only ledger. Implementations must enforce per-entity
// version monotonicity: concurrent appends for the same entity cannot both
// succeed at the same version.
type Store interface {
	// Append writes one event. A zero ev.Version asks the store to assign
	// the next version; a non-zero version must be exactly head+1 or the
	// append fails with a version conflict. EventID and Timestamp are
	// filled when empty. The stored event is returned.
	Append(ctx context.Context, ev Event) (Event, error)

	// Replay returns the entity's events with Version >= fromVersion in
	// ascending version order. fromVersion <= 1 replays everything.
	Replay(ctx context.Context, entityID string, fromVersion int64) ([]Event, error)

	// Latest returns the entity's head event, or ErrNotFound when the
	// entity has no ledger history.
	Latest(ctx context.Context, entityID string) (*Event, error)

	// Entities returns the IDs of all entities with ledger history
	// (events or a snapshot), sorted.
	Entities(ctx context.Context) ([]string, error)

	// SaveSnapshot stores state as the entity's snapshot at the given
	// version, replacing any older snapshot.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LatestSnapshot returns the entity's most recent snapshot, or
	// ErrNotFound when none exists.
	LatestSnapshot(ctx context.Context, entityID string) (*Snapshot, error)

	// Compact drops events at or below the entity's snapshot version.
	// It returns the number of events removed. Without a snapshot it is
	// a no-op.
	Compact(ctx context.Context, entityID string) (int64, error)
}
