package eventstore

import (
	"context"
	"sort"
	"sync"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentpress/syncbridge/pkg/errors"
)

// memoryStore keeps the ledger in process memory. Used by tests and by
// single-process runs that don't need durability.
type memoryStore struct {
	mu        sync.RWMutex
	events    map[string][]Event
	snapshots map[string]Snapshot
}

// NewMemory returns an in-memory ledger.
func NewMemory() Store {
	return &memoryStore{
		events:    make(map[string][]Event),
		snapshots: make(map[string]Snapshot),
	}
}

func (s *memoryStore) Append(_ context.Context, ev Event) (Event, error) {
	if !ev.Type.Valid() {
		return Event{}, errors.NewMalformedDataError(ev.EntityID, "", "unknown event type "+string(ev.Type))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var head int64
	if all := s.events[ev.EntityID]; len(all) > 0 {
		head = all[len(all)-1].Version
	} else if snap, ok := s.snapshots[ev.EntityID]; ok {
		// Compaction may have dropped all events; the snapshot still
		// anchors the version sequence.
		head = snap.Version
	}

	next := head + 1
	switch {
	case ev.Version == 0:
		ev.Version = next
	case ev.Version != next:
		return Event{}, errors.NewVersionConflictError(ev.EntityID, next, ev.Version)
	}

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = utc.Now()
	}

	s.events[ev.EntityID] = append(s.events[ev.EntityID], ev)
	return ev, nil
}

func (s *memoryStore) Replay(_ context.Context, entityID string, fromVersion int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[entityID]
	out := make([]Event, 0, len(all))
	for _, ev := range all {
		if ev.Version >= fromVersion {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memoryStore) Latest(_ context.Context, entityID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[entityID]
	if len(all) == 0 {
		return nil, errors.ErrNotFound
	}
	ev := all[len(all)-1]
	return &ev, nil
}

func (s *memoryStore) Entities(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.events))
	for id := range s.events {
		if len(s.events[id]) > 0 {
			seen[id] = struct{}{}
		}
	}
	for id := range s.snapshots {
		seen[id] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.snapshots[snap.EntityID]; ok && old.Version > snap.Version {
		return errors.NewVersionConflictError(snap.EntityID, old.Version, snap.Version)
	}
	snap.State = snap.State.Clone()
	s.snapshots[snap.EntityID] = snap
	return nil
}

func (s *memoryStore) LatestSnapshot(_ context.Context, entityID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[entityID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	snap.State = snap.State.Clone()
	return &snap, nil
}

func (s *memoryStore) Compact(_ context.Context, entityID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[entityID]
	if !ok {
		return 0, nil
	}

	all := s.events[entityID]
	kept := all[:0:0]
	var dropped int64
	for _, ev := range all {
		if ev.Version <= snap.Version {
			dropped++
			continue
		}
		kept = append(kept, ev)
	}
	s.events[entityID] = kept
	return dropped, nil
}
