package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// Field paths address values inside an entity payload. Segments are joined
// with dots; list elements are addressed either positionally ("tags[2]") or
// by stable key ("authors[id=a42]") when every element carries an "id".

// StableKeyField is the map key used for stable list element addressing.
const StableKeyField = "id"

// JoinPath appends a field name to a path prefix.
func JoinPath(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

// IndexPath appends a positional list index to a path prefix.
func IndexPath(prefix string, index int) string {
	return fmt.Sprintf("%s[%d]", prefix, index)
}

// KeyPath appends a stable-key list selector to a path prefix.
func KeyPath(prefix, key string) string {
	return fmt.Sprintf("%s[%s=%s]", prefix, StableKeyField, key)
}

// RootOf returns the top-level field name of a path.
func RootOf(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' || path[i] == '[' {
			return path[:i]
		}
	}
	return path
}

// segment is one parsed step of a field path.
type segment struct {
	field    string // map key; empty for pure list selectors
	index    int    // positional list index
	hasIndex bool
	key      string // stable-key list selector value
	hasKey   bool
}

// parsePath splits a field path into segments.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty field path")
	}
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open == -1 {
				segs = append(segs, segment{field: part})
				part = ""
				continue
			}
			if open > 0 {
				segs = append(segs, segment{field: part[:open]})
			}
			closeIdx := strings.IndexByte(part, ']')
			if closeIdx < open {
				return nil, fmt.Errorf("malformed field path %q", path)
			}
			sel := part[open+1 : closeIdx]
			if eq := strings.IndexByte(sel, '='); eq != -1 {
				if sel[:eq] != StableKeyField {
					return nil, fmt.Errorf("unsupported list selector %q in path %q", sel, path)
				}
				segs = append(segs, segment{key: sel[eq+1:], hasKey: true})
			} else {
				idx, err := strconv.Atoi(sel)
				if err != nil || idx < 0 {
					return nil, fmt.Errorf("invalid list index %q in path %q", sel, path)
				}
				segs = append(segs, segment{index: idx, hasIndex: true})
			}
			part = part[closeIdx+1:]
		}
	}
	return segs, nil
}

// GetPath resolves a field path against the state, returning null when any
// step is absent.
func (s State) GetPath(path string) Value {
	segs, err := parsePath(path)
	if err != nil {
		return Null()
	}
	cur := Value{Kind: KindMap, Map: s.Fields}
	for _, seg := range segs {
		switch {
		case seg.hasIndex:
			if cur.Kind != KindList || seg.index >= len(cur.List) {
				return Null()
			}
			cur = cur.List[seg.index]
		case seg.hasKey:
			elem, ok := findKeyed(cur, seg.key)
			if !ok {
				return Null()
			}
			cur = elem
		default:
			if cur.Kind != KindMap {
				return Null()
			}
			next, ok := cur.Map[seg.field]
			if !ok {
				return Null()
			}
			cur = next
		}
	}
	return cur
}

// SetPath writes a value at a field path, creating intermediate maps as
// needed. List steps may extend the list by one: a positional index equal
// to the length appends, and a stable-key selector with no matching
// element upserts a new one. Indexes past the end stay errors, so a write
// can never invent gap elements.
func (s *State) SetPath(path string, v Value) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if s.Fields == nil {
		s.Fields = make(map[string]Value)
	}
	root := Value{Kind: KindMap, Map: s.Fields}
	_, err = setSegments(root, segs, v)
	return err
}

// setSegments walks the container chain and writes the leaf value. It
// returns the possibly reallocated container so appends propagate to the
// parent step.
func setSegments(cur Value, segs []segment, v Value) (Value, error) {
	seg := segs[0]
	last := len(segs) == 1

	switch {
	case seg.hasIndex:
		if cur.Kind != KindList {
			return cur, fmt.Errorf("path step [%d] applied to %s value", seg.index, cur.Kind)
		}
		if seg.index > len(cur.List) {
			return cur, fmt.Errorf("list index %d out of range (len %d)", seg.index, len(cur.List))
		}
		if seg.index == len(cur.List) {
			if !last {
				return cur, fmt.Errorf("list index %d out of range (len %d)", seg.index, len(cur.List))
			}
			cur.List = append(cur.List, v)
			return cur, nil
		}
		if last {
			cur.List[seg.index] = v
			return cur, nil
		}
		child, err := setSegments(cur.List[seg.index], segs[1:], v)
		if err != nil {
			return cur, err
		}
		cur.List[seg.index] = child
		return cur, nil

	case seg.hasKey:
		if cur.Kind != KindList {
			return cur, fmt.Errorf("keyed path step applied to %s value", cur.Kind)
		}
		for i, elem := range cur.List {
			if keyOf(elem) == seg.key {
				if last {
					cur.List[i] = v
					return cur, nil
				}
				child, err := setSegments(cur.List[i], segs[1:], v)
				if err != nil {
					return cur, err
				}
				cur.List[i] = child
				return cur, nil
			}
		}
		// No element matches: upsert one carrying the stable key.
		if last {
			cur.List = append(cur.List, v)
			return cur, nil
		}
		elem := Value{Kind: KindMap, Map: map[string]Value{StableKeyField: String(seg.key)}}
		child, err := setSegments(elem, segs[1:], v)
		if err != nil {
			return cur, err
		}
		cur.List = append(cur.List, child)
		return cur, nil

	default:
		if cur.Kind != KindMap {
			return cur, fmt.Errorf("path step %q applied to %s value", seg.field, cur.Kind)
		}
		if last {
			cur.Map[seg.field] = v
			return cur, nil
		}
		next, ok := cur.Map[seg.field]
		if !ok {
			next = Value{Kind: KindMap, Map: make(map[string]Value)}
		}
		child, err := setSegments(next, segs[1:], v)
		if err != nil {
			return cur, err
		}
		cur.Map[seg.field] = child
		return cur, nil
	}
}

// findKeyed returns the list element whose stable key matches.
func findKeyed(list Value, key string) (Value, bool) {
	if list.Kind != KindList {
		return Value{}, false
	}
	for _, elem := range list.List {
		if keyOf(elem) == key {
			return elem, true
		}
	}
	return Value{}, false
}

// keyOf extracts an element's stable key, or "" when it has none.
func keyOf(v Value) string {
	if v.Kind != KindMap {
		return ""
	}
	id, ok := v.Map[StableKeyField]
	if !ok || id.Kind != KindString {
		return ""
	}
	return id.Str
}
