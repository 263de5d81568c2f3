package store

import (
	"context"
	"sync"

	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
)

// memoryAdapter holds entity state in process memory. Reads and writes
// deep-copy so callers can never alias the stored state.
type memoryAdapter struct {
	mu     sync.RWMutex
	source entity.Source
	states map[entity.ID]entity.State
	// failing simulates an unavailable backend for tests.
	failing bool
}

// Memory is the in-process Adapter implementation. It adds seeding and
// fault-injection hooks on top of the Adapter contract.
type Memory struct {
	*memoryAdapter
}

// NewMemory returns an empty in-memory adapter for the given side.
func NewMemory(source entity.Source) *Memory {
	return &Memory{&memoryAdapter{
		source: source,
		states: make(map[entity.ID]entity.State),
	}}
}

// Seed installs state directly, bypassing version checks. Pass the
// version the caller wants the entity to report.
func (m *Memory) Seed(id entity.ID, state entity.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = state.Clone()
}

// SetFailing toggles simulated unavailability. While failing, every Read
// and Write returns ErrStoreUnavailable.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func (m *memoryAdapter) Source() entity.Source {
	return m.source
}

func (m *memoryAdapter) Read(_ context.Context, id entity.ID) (entity.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failing {
		return entity.State{}, errors.WrapStore(string(m.source), "read", id.String(), errors.ErrStoreUnavailable)
	}
	state, ok := m.states[id]
	if !ok {
		return entity.State{}, errors.ErrNotFound
	}
	return state.Clone(), nil
}

func (m *memoryAdapter) Write(_ context.Context, id entity.ID, state entity.State, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return errors.WrapStore(string(m.source), "write", id.String(), errors.ErrStoreUnavailable)
	}

	var current int64
	if existing, ok := m.states[id]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return errors.NewVersionConflictError(id.String(), expectedVersion, current)
	}

	next := state.Clone()
	next.Version = expectedVersion + 1
	m.states[id] = next
	return nil
}
