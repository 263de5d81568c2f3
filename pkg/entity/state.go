package entity

import (
	"strings"

	"github.com/agentstation/utc"
)

// Source identifies which side of the synchronization produced a value.
type Source string

// The two writable sides of a synchronization.
const (
	SourceRegistry   Source = "registry"
	SourceAgentStore Source = "agent_store"
)

// String returns the source name.
func (s Source) String() string {
	return string(s)
}

// Valid reports whether the source is one of the known sides.
func (s Source) Valid() bool {
	return s == SourceRegistry || s == SourceAgentStore
}

// ID uniquely identifies a synchronized business object across both stores.
type ID struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

// String returns the canonical "type/id" form used as lock and ledger keys.
func (id ID) String() string {
	return id.Type + "/" + id.ID
}

// ParseID parses the canonical "type/id" form back into an ID.
func ParseID(s string) (ID, bool) {
	entityType, entityID, ok := strings.Cut(s, "/")
	if !ok || entityType == "" || entityID == "" {
		return ID{}, false
	}
	return ID{Type: entityType, ID: entityID}, true
}

// State is one side's snapshot of an entity: top-level fields, per-field
// modification stamps, and the store version observed at read time.
type State struct {
	// Fields holds the entity payload keyed by top-level field name.
	Fields map[string]Value `json:"fields"`

	// Stamps records when each top-level field was last modified on this
	// side. Fields without a stamp are treated as unmodified since the
	// entity was created.
	Stamps map[string]utc.Time `json:"stamps,omitempty"`

	// Version is the optimistic-concurrency version reported by the store.
	Version int64 `json:"version"`
}

// NewState returns an empty state at version zero.
func NewState() State {
	return State{
		Fields: make(map[string]Value),
		Stamps: make(map[string]utc.Time),
	}
}

// Clone returns a deep copy of the state, including nested containers.
func (s State) Clone() State {
	out := State{
		Fields:  make(map[string]Value, len(s.Fields)),
		Stamps:  make(map[string]utc.Time, len(s.Stamps)),
		Version: s.Version,
	}
	for k, v := range s.Fields {
		out.Fields[k] = v.Copy()
	}
	for k, t := range s.Stamps {
		out.Stamps[k] = t
	}
	return out
}

// Set stores a field value and stamps it with the given modification time.
func (s *State) Set(field string, v Value, modified utc.Time) {
	if s.Fields == nil {
		s.Fields = make(map[string]Value)
	}
	if s.Stamps == nil {
		s.Stamps = make(map[string]utc.Time)
	}
	s.Fields[field] = v
	s.Stamps[field] = modified
}

// Get returns the value for a field, or null when absent.
func (s State) Get(field string) Value {
	if v, ok := s.Fields[field]; ok {
		return v
	}
	return Null()
}

// StampOf returns the modification stamp for a field; the zero time when
// the field has never been stamped.
func (s State) StampOf(field string) utc.Time {
	return s.Stamps[field]
}
