// Package entity defines the data model shared by both sides of a
// synchronization: the recursive Value type used for field payloads,
// the State snapshot of an entity, and field path addressing.
package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind identifies the concrete type held by a Value.
type Kind int

// Value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union representing an arbitrary JSON-like field payload.
// Exactly one of the payload fields is meaningful, selected by Kind.
// Values are treated as immutable once constructed.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	List []Value
	Map  map[string]Value
}

// Null returns the null value.
func Null() Value {
	return Value{Kind: KindNull}
}

// Boolean wraps a bool.
func Boolean(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// Number wraps a float64.
func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

// String wraps a string.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// ListOf wraps a slice of values.
func ListOf(vs ...Value) Value {
	return Value{Kind: KindList, List: vs}
}

// MapOf wraps a map of values.
func MapOf(m map[string]Value) Value {
	return Value{Kind: KindMap, Map: m}
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// Equal compares two values structurally. Numbers compare within epsilon
// to avoid floating point false positives; pass 0 for exact comparison.
func (v Value) Equal(other Value, epsilon float64) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return math.Abs(v.Num-other.Num) <= epsilon
	case KindString:
		return v.Str == other.Str
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i], epsilon) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for key, val := range v.Map {
			otherVal, ok := other.Map[key]
			if !ok || !val.Equal(otherVal, epsilon) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders the value compactly for logs and summaries.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindNumber:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1e15 {
			return fmt.Sprintf("%d", int64(v.Num))
		}
		return fmt.Sprintf("%g", v.Num)
	case KindString:
		return v.Str
	case KindList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.Map[k].String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return "?"
	}
}

// MarshalJSON encodes the value as plain JSON without the tag wrapper.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toAny())
}

// UnmarshalJSON decodes plain JSON into the tagged representation.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// toAny converts the value to the generic representation used by
// encoding/json.
func (v Value) toAny() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.toAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.toAny()
		}
		return out
	default:
		return nil
	}
}

// Copy returns a deep copy of the value. Containers are duplicated so the
// copy can be mutated without aliasing the original.
func (v Value) Copy() Value {
	switch v.Kind {
	case KindList:
		list := make([]Value, len(v.List))
		for i, e := range v.List {
			list[i] = e.Copy()
		}
		return Value{Kind: KindList, List: list}
	case KindMap:
		m := make(map[string]Value, len(v.Map))
		for k, e := range v.Map {
			m[k] = e.Copy()
		}
		return Value{Kind: KindMap, Map: m}
	default:
		return v
	}
}

// FromAny converts a generic JSON-decoded value into a tagged Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Boolean(t), nil
	case float64:
		return Number(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parsing number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []any:
		list := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			list[i] = v
		}
		return Value{Kind: KindList, List: list}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Value{Kind: KindMap, Map: m}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}
