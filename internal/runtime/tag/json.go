package tag

import (
	"encoding/json"
	"fmt"

	"github.com/drblury/pktflow/internal/runtime/jsoncodec"
)

type jsonValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

type jsonEntry struct {
	Key string `json:"key"`
	jsonValue
}

type jsonTag struct {
	Offset uint64     `json:"offset"`
	Attrs  Attributes `json:"attrs"`
}

func (v Value) typeName() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("i%d", v.bits)
	case KindUint:
		return fmt.Sprintf("u%d", v.bits)
	case KindFloat:
		return fmt.Sprintf("f%d", v.bits)
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	jv, err := v.toJSON()
	if err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(jv)
}

func (v Value) toJSON() (jsonValue, error) {
	out := jsonValue{Type: v.typeName()}
	if v.kind == KindAbsent {
		return out, nil
	}
	var payload any
	switch v.kind {
	case KindInt:
		payload = v.i
	case KindUint:
		payload = v.u
	case KindFloat:
		payload = v.f
	case KindBool:
		payload = v.b
	case KindString:
		payload = v.s
	case KindMap:
		payload = v.m
	}
	raw, err := jsoncodec.Marshal(payload)
	if err != nil {
		return jsonValue{}, err
	}
	out.Value = raw
	return out, nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := jsoncodec.Unmarshal(data, &jv); err != nil {
		return err
	}
	return v.fromJSON(jv)
}

func (v *Value) fromJSON(jv jsonValue) error {
	decode := func(dst any) error {
		if len(jv.Value) == 0 {
			return fmt.Errorf("tag: missing value for type %q", jv.Type)
		}
		return jsoncodec.Unmarshal(jv.Value, dst)
	}
	switch jv.Type {
	case "null", "":
		*v = Absent()
		return nil
	case "i8", "i16", "i32", "i64":
		var n int64
		if err := decode(&n); err != nil {
			return err
		}
		*v = Value{kind: KindInt, bits: bitsOf(jv.Type), i: n}
	case "u8", "u16", "u32", "u64":
		var n uint64
		if err := decode(&n); err != nil {
			return err
		}
		*v = Value{kind: KindUint, bits: bitsOf(jv.Type), u: n}
	case "f32", "f64":
		var f float64
		if err := decode(&f); err != nil {
			return err
		}
		*v = Value{kind: KindFloat, bits: bitsOf(jv.Type), f: f}
	case "bool":
		var b bool
		if err := decode(&b); err != nil {
			return err
		}
		*v = Bool(b)
	case "string":
		var s string
		if err := decode(&s); err != nil {
			return err
		}
		*v = String(s)
	case "map":
		var m Attributes
		if err := decode(&m); err != nil {
			return err
		}
		*v = Map(m)
	default:
		return fmt.Errorf("tag: unknown value type %q", jv.Type)
	}
	return nil
}

func bitsOf(typeName string) uint8 {
	switch typeName[1:] {
	case "8":
		return 8
	case "16":
		return 16
	case "32":
		return 32
	default:
		return 64
	}
}

// MarshalJSON encodes the map as an ordered list of typed entries.
func (a Attributes) MarshalJSON() ([]byte, error) {
	entries := make([]jsonEntry, 0, len(a.entries))
	for _, e := range a.entries {
		jv, err := e.Value.toJSON()
		if err != nil {
			return nil, err
		}
		entries = append(entries, jsonEntry{Key: e.Key, jsonValue: jv})
	}
	return jsoncodec.Marshal(entries)
}

func (a *Attributes) UnmarshalJSON(data []byte) error {
	var entries []jsonEntry
	if err := jsoncodec.Unmarshal(data, &entries); err != nil {
		return err
	}
	var out Attributes
	for _, e := range entries {
		var v Value
		if err := v.fromJSON(e.jsonValue); err != nil {
			return fmt.Errorf("tag: attribute %q: %w", e.Key, err)
		}
		out = out.Set(e.Key, v)
	}
	*a = out
	return nil
}

func (t Tag) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(jsonTag{Offset: t.Offset, Attrs: t.Attrs})
}

func (t *Tag) UnmarshalJSON(data []byte) error {
	var jt jsonTag
	if err := jsoncodec.Unmarshal(data, &jt); err != nil {
		return err
	}
	*t = Tag{Offset: jt.Offset, Attrs: jt.Attrs}
	return nil
}
