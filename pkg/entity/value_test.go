package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Value
		epsilon float64
		want    bool
	}{
		{"nulls", Null(), Null(), 0, true},
		{"bools", Boolean(true), Boolean(true), 0, true},
		{"bool mismatch", Boolean(true), Boolean(false), 0, false},
		{"kind mismatch", String("1"), Number(1), 0, false},
		{"exact numbers", Number(1.5), Number(1.5), 0, true},
		{"numbers within epsilon", Number(1.0), Number(1.0 + 1e-12), 1e-9, true},
		{"numbers beyond epsilon", Number(1.0), Number(1.1), 1e-9, false},
		{"strings", String("alpha"), String("alpha"), 0, true},
		{"lists", ListOf(Number(1), String("x")), ListOf(Number(1), String("x")), 0, true},
		{"list length mismatch", ListOf(Number(1)), ListOf(Number(1), Number(2)), 0, false},
		{"list order matters", ListOf(Number(1), Number(2)), ListOf(Number(2), Number(1)), 0, false},
		{
			"maps ignore key order",
			MapOf(map[string]Value{"a": Number(1), "b": String("x")}),
			MapOf(map[string]Value{"b": String("x"), "a": Number(1)}),
			0, true,
		},
		{
			"map missing key",
			MapOf(map[string]Value{"a": Number(1)}),
			MapOf(map[string]Value{"b": Number(1)}),
			0, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b, tt.epsilon))
		})
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	v := MapOf(map[string]Value{
		"name":    String("claude-sonnet"),
		"enabled": Boolean(true),
		"weight":  Number(0.75),
		"tags":    ListOf(String("llm"), String("chat")),
		"extra":   Null(),
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, v.Equal(decoded, 0), "round-tripped value should be structurally equal")
}

func TestValueCopyIsDeep(t *testing.T) {
	original := MapOf(map[string]Value{
		"tags": ListOf(String("a")),
	})
	copied := original.Copy()

	copied.Map["tags"].List[0] = String("mutated")
	assert.Equal(t, "a", original.Map["tags"].List[0].Str)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"count": float64(3),
		"ok":    true,
		"items": []any{"x", "y"},
	})
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind)
	assert.Equal(t, float64(3), v.Map["count"].Num)
	assert.True(t, v.Map["ok"].Bool)
	require.Len(t, v.Map["items"].List, 2)

	_, err = FromAny(make(chan int))
	assert.Error(t, err)
}
