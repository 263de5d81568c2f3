// Package store provides adapters over the two synchronized systems: the
// canonical registry and the agent store. Adapters expose versioned reads
// and optimistic-concurrency writes; the coordinator never touches either
// system except through this interface.
package store

import (
	"context"

	"github.com/agentpress/syncbridge/pkg/entity"
)

// Adapter reads and writes one side's entity state.
//
// Write is optimistic: it succeeds only when the stored version still
// equals expectedVersion, and returns ErrVersionConflict otherwise. A
// Write that succeeds bumps the stored version by one.
type Adapter interface {
	// Source identifies which side this adapter fronts.
	Source() entity.Source

	// Read returns the entity's current state, including its version.
	// Missing entities return ErrNotFound.
	Read(ctx context.Context, id entity.ID) (entity.State, error)

	// Write replaces the entity's state. expectedVersion 0 creates the
	// entity and fails if it already exists.
	Write(ctx context.Context, id entity.ID, state entity.State, expectedVersion int64) error
}
