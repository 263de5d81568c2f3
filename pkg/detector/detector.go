package detector

import (
	"github.com/agentstation/utc"

	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
)

// Side bundles one store's last synchronized snapshot with its current
// live state.
type Side struct {
	Source entity.Source
	Base   entity.State // state at the last synchronized version
	Live   entity.State // state read at detection time
}

// Detector computes field-level changes for an entity.
type Detector interface {
	// Detect diffs each side's base against its live state and returns
	// the combined changeset. It returns an error only on structurally
	// incompatible input; never partial results.
	Detect(entityID string, registry, agent Side) (*ChangeSet, error)
}

// detector is the default implementation of Detector.
type detector struct {
	epsilon     float64
	ignorePaths map[string]bool
}

// New creates a new Detector with default settings.
func New(opts ...Option) Detector {
	d := &detector{
		epsilon:     defaultEpsilon,
		ignorePaths: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Detect diffs both sides and returns the combined, path-sorted changeset.
func (d *detector) Detect(entityID string, registry, agent Side) (*ChangeSet, error) {
	cs := &ChangeSet{
		EntityID:        entityID,
		Changes:         []FieldChange{},
		RegistryVersion: registry.Live.Version,
		AgentVersion:    agent.Live.Version,
		DetectedAt:      utc.Now(),
	}

	registryChanges := d.diffState(registry)
	agentChanges := d.diffState(agent)

	// A field changed on both sides must still be structurally comparable,
	// otherwise no merge of the two values is meaningful.
	if err := d.checkCompatibility(entityID, registryChanges, agentChanges); err != nil {
		return nil, err
	}

	cs.Changes = append(cs.Changes, registryChanges...)
	cs.Changes = append(cs.Changes, agentChanges...)
	sortChanges(cs.Changes)

	return cs, nil
}

// diffState computes one side's base-to-live changes.
func (d *detector) diffState(side Side) []FieldChange {
	var changes []FieldChange

	for _, field := range unionKeys(side.Base.Fields, side.Live.Fields) {
		if d.ignorePaths[field] {
			continue
		}
		oldVal, hadOld := side.Base.Fields[field]
		newVal, hasNew := side.Live.Fields[field]
		if !hadOld {
			oldVal = entity.Null()
		}
		if !hasNew {
			newVal = entity.Null()
		}
		changes = d.diffValue(field, oldVal, newVal, side, changes)
	}

	return changes
}

// diffValue recursively compares two values, appending a FieldChange for
// every differing leaf path.
func (d *detector) diffValue(path string, oldVal, newVal entity.Value, side Side, changes []FieldChange) []FieldChange {
	if d.ignorePaths[path] {
		return changes
	}
	if oldVal.Equal(newVal, d.epsilon) {
		return changes
	}

	// Kind changed: the whole subtree was replaced, record at this path.
	if oldVal.Kind != newVal.Kind {
		return append(changes, d.change(path, oldVal, newVal, side))
	}

	switch newVal.Kind {
	case entity.KindMap:
		for _, key := range unionKeys(oldVal.Map, newVal.Map) {
			childOld, hadOld := oldVal.Map[key]
			childNew, hasNew := newVal.Map[key]
			if !hadOld {
				childOld = entity.Null()
			}
			if !hasNew {
				childNew = entity.Null()
			}
			changes = d.diffValue(entity.JoinPath(path, key), childOld, childNew, side, changes)
		}
		return changes

	case entity.KindList:
		return d.diffList(path, oldVal, newVal, side, changes)

	default:
		return append(changes, d.change(path, oldVal, newVal, side))
	}
}

// diffList compares list fields element-wise by stable key when every
// element of both lists carries one, otherwise by positional index.
func (d *detector) diffList(path string, oldVal, newVal entity.Value, side Side, changes []FieldChange) []FieldChange {
	if stableKeyed(oldVal) && stableKeyed(newVal) {
		oldByKey := elementsByKey(oldVal)
		newByKey := elementsByKey(newVal)
		for _, key := range unionKeys(oldByKey, newByKey) {
			childOld, hadOld := oldByKey[key]
			childNew, hasNew := newByKey[key]
			if !hadOld {
				childOld = entity.Null()
			}
			if !hasNew {
				childNew = entity.Null()
			}
			changes = d.diffValue(entity.KeyPath(path, key), childOld, childNew, side, changes)
		}
		return changes
	}

	// A grown or shrunk list is one whole-list change, so list-level
	// strategies (union merge) see complete values instead of per-index
	// fragments.
	if len(oldVal.List) != len(newVal.List) {
		return append(changes, d.change(path, oldVal, newVal, side))
	}

	// Equal lengths compare element by element.
	for i := range newVal.List {
		changes = d.diffValue(entity.IndexPath(path, i), oldVal.List[i], newVal.List[i], side, changes)
	}
	return changes
}

// change builds a FieldChange stamped with the side's per-field
// modification time for the path's top-level field.
func (d *detector) change(path string, oldVal, newVal entity.Value, side Side) FieldChange {
	return FieldChange{
		Path:       path,
		Old:        oldVal,
		New:        newVal,
		Source:     side.Source,
		ModifiedAt: side.Live.StampOf(entity.RootOf(path)),
	}
}

// checkCompatibility rejects input where the two sides changed the same
// path to structurally incompatible shapes (container on one side, scalar
// or a different container on the other).
func (d *detector) checkCompatibility(entityID string, registry, agent []FieldChange) error {
	agentByPath := make(map[string]entity.Value, len(agent))
	for _, c := range agent {
		agentByPath[c.Path] = c.New
	}
	for _, c := range registry {
		agentVal, ok := agentByPath[c.Path]
		if !ok {
			continue
		}
		if c.New.IsNull() || agentVal.IsNull() {
			continue // deletions compare against anything
		}
		if c.New.Kind != agentVal.Kind && (isContainer(c.New) || isContainer(agentVal)) {
			return errors.NewMalformedDataError(entityID, c.Path,
				"sides hold incompatible types: "+c.New.Kind.String()+" vs "+agentVal.Kind.String())
		}
	}
	return nil
}

// isContainer reports whether the value is a list or map.
func isContainer(v entity.Value) bool {
	return v.Kind == entity.KindList || v.Kind == entity.KindMap
}

// stableKeyed reports whether every element of a list is a map carrying a
// string stable key.
func stableKeyed(list entity.Value) bool {
	if list.Kind != entity.KindList || len(list.List) == 0 {
		return false
	}
	for _, elem := range list.List {
		if elem.Kind != entity.KindMap {
			return false
		}
		id, ok := elem.Map[entity.StableKeyField]
		if !ok || id.Kind != entity.KindString || id.Str == "" {
			return false
		}
	}
	return true
}

// elementsByKey indexes list elements by their stable key.
func elementsByKey(list entity.Value) map[string]entity.Value {
	out := make(map[string]entity.Value, len(list.List))
	for _, elem := range list.List {
		out[elem.Map[entity.StableKeyField].Str] = elem
	}
	return out
}
