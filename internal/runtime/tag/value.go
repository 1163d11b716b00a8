package tag

import (
	"fmt"
	"math"
	"strconv"
)

// Kind enumerates the closed set of attribute value variants.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBool
	KindString
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable attribute value. The zero Value is absent.
type Value struct {
	kind Kind
	bits uint8
	i    int64
	u    uint64
	f    float64
	b    bool
	s    string
	m    Attributes
}

func Absent() Value { return Value{} }

func Int8(v int8) Value   { return Value{kind: KindInt, bits: 8, i: int64(v)} }
func Int16(v int16) Value { return Value{kind: KindInt, bits: 16, i: int64(v)} }
func Int32(v int32) Value { return Value{kind: KindInt, bits: 32, i: int64(v)} }
func Int64(v int64) Value { return Value{kind: KindInt, bits: 64, i: v} }

func Uint8(v uint8) Value   { return Value{kind: KindUint, bits: 8, u: uint64(v)} }
func Uint16(v uint16) Value { return Value{kind: KindUint, bits: 16, u: uint64(v)} }
func Uint32(v uint32) Value { return Value{kind: KindUint, bits: 32, u: uint64(v)} }
func Uint64(v uint64) Value { return Value{kind: KindUint, bits: 64, u: v} }

func Float32(v float32) Value { return Value{kind: KindFloat, bits: 32, f: float64(v)} }
func Float64(v float64) Value { return Value{kind: KindFloat, bits: 64, f: v} }

func Bool(v bool) Value     { return Value{kind: KindBool, b: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func Map(v Attributes) Value {
	return Value{kind: KindMap, m: v}
}

// Of converts a native Go value into a Value.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Absent(), nil
	case Value:
		return x, nil
	case int:
		return Int64(int64(x)), nil
	case int8:
		return Int8(x), nil
	case int16:
		return Int16(x), nil
	case int32:
		return Int32(x), nil
	case int64:
		return Int64(x), nil
	case uint:
		return Uint64(uint64(x)), nil
	case uint8:
		return Uint8(x), nil
	case uint16:
		return Uint16(x), nil
	case uint32:
		return Uint32(x), nil
	case uint64:
		return Uint64(x), nil
	case float32:
		return Float32(x), nil
	case float64:
		return Float64(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case Attributes:
		return Map(x), nil
	default:
		return Value{}, fmt.Errorf("tag: unsupported value type %T", v)
	}
}

func (v Value) Kind() Kind { return v.kind }

// Bits reports the declared width of numeric values and 0 otherwise.
func (v Value) Bits() int { return int(v.bits) }

func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// IsInteger reports whether v holds a signed or unsigned integer.
func (v Value) IsInteger() bool { return v.kind == KindInt || v.kind == KindUint }

func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) Uint() (uint64, bool) {
	if v.kind != KindUint {
		return 0, false
	}
	return v.u, true
}

func (v Value) Float() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) MapValue() (Attributes, bool) {
	if v.kind != KindMap {
		return Attributes{}, false
	}
	return v.m, true
}

// AsUint64 returns the value of any integer variant that is representable as uint64.
func (v Value) AsUint64() (uint64, bool) {
	switch v.kind {
	case KindUint:
		return v.u, true
	case KindInt:
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	default:
		return 0, false
	}
}

// AsFloat64 widens any numeric variant to float64.
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindUint:
		return float64(v.u), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Any returns the native Go representation, used for logging.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindUint:
		return v.u
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindMap:
		out := make(map[string]any, v.m.Len())
		v.m.Each(func(k string, val Value) bool {
			out[k] = val.Any()
			return true
		})
		return out
	default:
		return nil
	}
}

// Equal compares kind, width and payload. NaN floats compare equal to each other.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.bits != o.bits {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindInt:
		return v.i == o.i
	case KindUint:
		return v.u == o.u
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, int(v.bits))
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return strconv.Quote(v.s)
	case KindMap:
		return v.m.String()
	default:
		return "?"
	}
}
