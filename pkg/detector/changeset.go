// Package detector computes structured diffs between the two sides of a
// synchronized entity. The output ChangeSet is transient: produced fresh on
// every sync attempt, consumed by the resolver, and never persisted directly.
package detector

import (
	"fmt"
	"sort"

	"github.com/agentstation/utc"

	"github.com/agentpress/syncbridge/pkg/entity"
)

// FieldChange records one field-level difference observed on one side.
// Immutable once recorded.
type FieldChange struct {
	Path       string        `json:"field_path"`
	Old        entity.Value  `json:"old_value"`
	New        entity.Value  `json:"new_value"`
	Source     entity.Source `json:"source"`
	ModifiedAt utc.Time      `json:"modified_at"`
}

// ChangeSet is the ordered sequence of field changes detected for one
// entity, tagged with the version numbers observed on both sides.
type ChangeSet struct {
	EntityID        string        `json:"entity_id"`
	Changes         []FieldChange `json:"changes"`
	RegistryVersion int64         `json:"registry_version"`
	AgentVersion    int64         `json:"agent_version"`
	DetectedAt      utc.Time      `json:"detected_at"`
}

// Empty reports whether no changes were detected. This is the common case
// and must be cheap.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Changes) == 0
}

// ByPath groups changes by field path, preserving per-path source order
// (registry before agent store).
func (cs *ChangeSet) ByPath() map[string][]FieldChange {
	grouped := make(map[string][]FieldChange)
	for _, c := range cs.Changes {
		grouped[c.Path] = append(grouped[c.Path], c)
	}
	return grouped
}

// Paths returns the distinct changed field paths in sorted order.
func (cs *ChangeSet) Paths() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, c := range cs.Changes {
		if !seen[c.Path] {
			seen[c.Path] = true
			paths = append(paths, c.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Summary returns a human-readable summary of the changeset.
func (cs *ChangeSet) Summary() string {
	if cs.Empty() {
		return fmt.Sprintf("%s: no changes", cs.EntityID)
	}
	registry, agent := 0, 0
	for _, c := range cs.Changes {
		if c.Source == entity.SourceRegistry {
			registry++
		} else {
			agent++
		}
	}
	return fmt.Sprintf("%s: %d changes (%d registry, %d agent store)", cs.EntityID, len(cs.Changes), registry, agent)
}

// sortChanges orders changes by path, with registry changes before agent
// store changes on the same path, for deterministic output.
func sortChanges(changes []FieldChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Path != changes[j].Path {
			return changes[i].Path < changes[j].Path
		}
		return changes[i].Source == entity.SourceRegistry && changes[j].Source != entity.SourceRegistry
	})
}
