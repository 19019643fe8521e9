package coedit

import (
	"fmt"
	"math"
	"reflect"
)

// Values carried by properties, metadata and call arguments are plain Go values:
// nil, bool, integers, floats, string, []any and map[string]any.
// Integers decoded from the wire come back as int64, other numbers as float64.

const maxExactFloatInt = 1 << 53

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// deep equality where numbers compare by value regardless of kind
func ValuesEqual(a any, b any) bool {
	if an, ok := numericValue(a); ok {
		bn, ok := numericValue(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !ValuesEqual(v, w) {
				return false
			}
		}
		return true
	default:
		if b == nil {
			return false
		}
		if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
			return a == b
		}
		return reflect.DeepEqual(a, b)
	}
}

func CopyValue(v any) any {
	switch w := v.(type) {
	case []any:
		c := make([]any, len(w))
		for i, e := range w {
			c[i] = CopyValue(e)
		}
		return c
	case map[string]any:
		c := make(map[string]any, len(w))
		for k, e := range w {
			c[k] = CopyValue(e)
		}
		return c
	default:
		return v
	}
}

// converts a value into the subset the structured wire encoding accepts
func toWireValue(v any) (any, error) {
	switch w := v.(type) {
	case nil, bool, string, float64:
		return w, nil
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		n, _ := numericValue(w)
		if maxExactFloatInt < math.Abs(n) {
			return nil, fmt.Errorf("Integer out of range: %v", w)
		}
		return n, nil
	case float32:
		return float64(w), nil
	case PeerId:
		return w.String(), nil
	case []string:
		c := make([]any, len(w))
		for i, e := range w {
			c[i] = e
		}
		return c, nil
	case []any:
		c := make([]any, len(w))
		for i, e := range w {
			var err error
			if c[i], err = toWireValue(e); err != nil {
				return nil, err
			}
		}
		return c, nil
	case map[string]any:
		c := make(map[string]any, len(w))
		for k, e := range w {
			var err error
			if c[k], err = toWireValue(e); err != nil {
				return nil, err
			}
		}
		return c, nil
	default:
		return nil, fmt.Errorf("Unsupported value type: %T", v)
	}
}

// integral floats that are exactly representable come back as int64
func fromWireValue(v any) any {
	switch w := v.(type) {
	case float64:
		if w == math.Trunc(w) && math.Abs(w) <= maxExactFloatInt {
			return int64(w)
		}
		return w
	case []any:
		for i, e := range w {
			w[i] = fromWireValue(e)
		}
		return w
	case map[string]any:
		for k, e := range w {
			w[k] = fromWireValue(e)
		}
		return w
	default:
		return v
	}
}
