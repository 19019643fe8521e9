package coedit

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestValuesEqual(t *testing.T) {
	assert.Equal(t, ValuesEqual(int64(3), float64(3)), true)
	assert.Equal(t, ValuesEqual(3, uint8(3)), true)
	assert.Equal(t, ValuesEqual(3, 3.5), false)
	assert.Equal(t, ValuesEqual(3, "3"), false)
	assert.Equal(t, ValuesEqual(nil, nil), true)
	assert.Equal(t, ValuesEqual(nil, false), false)
	assert.Equal(t, ValuesEqual(false, nil), false)
	assert.Equal(t, ValuesEqual("a", "a"), true)

	a := map[string]any{
		"list": []any{int64(1), "x", map[string]any{"y": 2.0}},
	}
	b := map[string]any{
		"list": []any{1, "x", map[string]any{"y": int64(2)}},
	}
	assert.Equal(t, ValuesEqual(a, b), true)

	b["list"].([]any)[2].(map[string]any)["y"] = 3
	assert.Equal(t, ValuesEqual(a, b), false)

	assert.Equal(t, ValuesEqual([]any{1}, []any{1, 2}), false)
	assert.Equal(t, ValuesEqual(map[string]any{"a": 1}, map[string]any{"b": 1}), false)
}

func TestCopyValueIsDeep(t *testing.T) {
	original := map[string]any{
		"list": []any{"a", map[string]any{"b": "c"}},
	}
	copied := CopyValue(original).(map[string]any)
	copied["list"].([]any)[1].(map[string]any)["b"] = "changed"
	copied["new"] = true

	assert.Equal(t, original["list"].([]any)[1].(map[string]any)["b"], "c")
	_, ok := original["new"]
	assert.Equal(t, ok, false)
}

func TestWireValue(t *testing.T) {
	wire, err := toWireValue(map[string]any{
		"int":     7,
		"uint8":   uint8(200),
		"float32": float32(0.5),
		"peer":    PeerId(42),
		"paths":   []string{"res://a.gd"},
	})
	assert.Equal(t, err, nil)

	decoded := fromWireValue(wire).(map[string]any)
	assert.Equal(t, decoded["int"], int64(7))
	assert.Equal(t, decoded["uint8"], int64(200))
	assert.Equal(t, decoded["float32"], 0.5)
	assert.Equal(t, decoded["peer"], "42")
	assert.Equal(t, decoded["paths"], []any{"res://a.gd"})

	_, err = toWireValue(uint64(1) << 60)
	assert.NotEqual(t, err, nil)

	_, err = toWireValue(struct{}{})
	assert.NotEqual(t, err, nil)
}
