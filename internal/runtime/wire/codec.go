// Package wire encodes packets for transports, archives and captures.
//
// The binary form uses the protobuf wire format without generated types:
//
//	Pdu        { 1: bytes items; 2: repeated Tag tags }
//	Tag        { 1: uint64 offset; 2: repeated Attr attrs }
//	Attr       { 1: string key; 2: Value value }
//	Value      { 1: sint64 | 2: uint64 | 3: double | 4: bool | 5: string | 6: Attributes | 7: absent; 8: bits }
//	Attributes { 1: repeated Attr }
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

const (
	fieldPduItems protowire.Number = 1
	fieldPduTag   protowire.Number = 2

	fieldTagOffset protowire.Number = 1
	fieldTagAttr   protowire.Number = 2

	fieldAttrKey   protowire.Number = 1
	fieldAttrValue protowire.Number = 2

	fieldValueInt    protowire.Number = 1
	fieldValueUint   protowire.Number = 2
	fieldValueFloat  protowire.Number = 3
	fieldValueBool   protowire.Number = 4
	fieldValueString protowire.Number = 5
	fieldValueMap    protowire.Number = 6
	fieldValueAbsent protowire.Number = 7
	fieldValueBits   protowire.Number = 8

	fieldMapAttr protowire.Number = 1
)

// Codec encodes Pdu[T] in the binary form.
type Codec[T any] struct {
	items ItemCodec[T]
}

// NewCodec builds a Codec for the given item encoding.
func NewCodec[T any](items ItemCodec[T]) (*Codec[T], error) {
	if items == nil {
		return nil, errspkg.NewConfigValidationError(errspkg.ErrCodecRequired)
	}
	return &Codec[T]{items: items}, nil
}

// ByteCodec is the codec used by the byte packet path.
func ByteCodec() *Codec[byte] {
	return &Codec[byte]{items: Bytes()}
}

// Name identifies the codec in message metadata.
func (c *Codec[T]) Name() string { return "pktflow/pb+" + c.items.Name() }

// Marshal validates and encodes p.
func (c *Codec[T]) Marshal(p pdu.Pdu[T]) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(p.Data)*c.items.Size()+16*len(p.Tags)+8)
	b = protowire.AppendTag(b, fieldPduItems, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(p.Data)*c.items.Size()))
	b = c.items.Append(b, p.Data)
	for _, t := range p.Tags {
		b = protowire.AppendTag(b, fieldPduTag, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTag(nil, t))
	}
	return b, nil
}

// Unmarshal decodes and validates a packet.
func (c *Codec[T]) Unmarshal(b []byte) (pdu.Pdu[T], error) {
	var (
		p   pdu.Pdu[T]
		err error
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return pdu.Pdu[T]{}, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldPduItems && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return pdu.Pdu[T]{}, malformed(protowire.ParseError(n))
			}
			if p.Data, err = c.items.Decode(raw); err != nil {
				return pdu.Pdu[T]{}, malformed(err)
			}
			b = b[n:]
		case num == fieldPduTag && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return pdu.Pdu[T]{}, malformed(protowire.ParseError(n))
			}
			t, err := consumeTag(raw)
			if err != nil {
				return pdu.Pdu[T]{}, malformed(err)
			}
			p.Tags = append(p.Tags, t)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return pdu.Pdu[T]{}, malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if err := p.Validate(); err != nil {
		return pdu.Pdu[T]{}, malformed(err)
	}
	return p, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", errspkg.ErrMalformedPayload, err)
}

func appendTag(b []byte, t tag.Tag) []byte {
	b = protowire.AppendTag(b, fieldTagOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, t.Offset)
	return appendAttrs(b, fieldTagAttr, t.Attrs)
}

func appendAttrs(b []byte, field protowire.Number, attrs tag.Attributes) []byte {
	attrs.Each(func(key string, v tag.Value) bool {
		var attr []byte
		attr = protowire.AppendTag(attr, fieldAttrKey, protowire.BytesType)
		attr = protowire.AppendString(attr, key)
		attr = protowire.AppendTag(attr, fieldAttrValue, protowire.BytesType)
		attr = protowire.AppendBytes(attr, appendValue(nil, v))

		b = protowire.AppendTag(b, field, protowire.BytesType)
		b = protowire.AppendBytes(b, attr)
		return true
	})
	return b
}

func appendValue(b []byte, v tag.Value) []byte {
	switch v.Kind() {
	case tag.KindInt:
		n, _ := v.Int()
		b = protowire.AppendTag(b, fieldValueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(n))
	case tag.KindUint:
		n, _ := v.Uint()
		b = protowire.AppendTag(b, fieldValueUint, protowire.VarintType)
		b = protowire.AppendVarint(b, n)
	case tag.KindFloat:
		f, _ := v.Float()
		b = protowire.AppendTag(b, fieldValueFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(f))
	case tag.KindBool:
		x, _ := v.BoolValue()
		b = protowire.AppendTag(b, fieldValueBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(x))
	case tag.KindString:
		s, _ := v.Str()
		b = protowire.AppendTag(b, fieldValueString, protowire.BytesType)
		b = protowire.AppendString(b, s)
	case tag.KindMap:
		m, _ := v.MapValue()
		b = protowire.AppendTag(b, fieldValueMap, protowire.BytesType)
		b = protowire.AppendBytes(b, appendAttrs(nil, fieldMapAttr, m))
	default:
		b = protowire.AppendTag(b, fieldValueAbsent, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if bits := v.Bits(); bits != 0 && bits != 64 {
		b = protowire.AppendTag(b, fieldValueBits, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(bits))
	}
	return b
}

// fieldIter walks the fields of one message.
func fieldIter(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		used, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
			if used < 0 {
				return protowire.ParseError(used)
			}
		}
		b = b[used:]
	}
	return nil
}

func consumeTag(b []byte) (tag.Tag, error) {
	var t tag.Tag
	err := fieldIter(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldTagOffset && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			t.Offset = v
			return n, nil
		case num == fieldTagAttr && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			key, v, err := consumeAttr(raw)
			if err != nil {
				return 0, err
			}
			t.Attrs = t.Attrs.Set(key, v)
			return n, nil
		}
		return 0, nil
	})
	return t, err
}

func consumeAttrs(b []byte) (tag.Attributes, error) {
	var attrs tag.Attributes
	err := fieldIter(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldMapAttr || typ != protowire.BytesType {
			return 0, nil
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		key, v, err := consumeAttr(raw)
		if err != nil {
			return 0, err
		}
		attrs = attrs.Set(key, v)
		return n, nil
	})
	return attrs, err
}

func consumeAttr(b []byte) (string, tag.Value, error) {
	var (
		key string
		val tag.Value
	)
	err := fieldIter(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldAttrKey && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			key = s
			return n, nil
		case num == fieldAttrValue && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			v, err := consumeValue(raw)
			if err != nil {
				return 0, err
			}
			val = v
			return n, nil
		}
		return 0, nil
	})
	return key, val, err
}

func consumeValue(b []byte) (tag.Value, error) {
	var (
		kind = tag.KindAbsent
		bits = 64
		i    int64
		u    uint64
		f    float64
		bl   bool
		s    string
		m    tag.Attributes
	)
	err := fieldIter(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldValueInt, fieldValueUint, fieldValueBool, fieldValueAbsent, fieldValueBits:
			if typ != protowire.VarintType {
				return 0, fmt.Errorf("wire: field %d has type %d", num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			switch num {
			case fieldValueInt:
				kind, i = tag.KindInt, protowire.DecodeZigZag(v)
			case fieldValueUint:
				kind, u = tag.KindUint, v
			case fieldValueBool:
				kind, bl = tag.KindBool, protowire.DecodeBool(v)
			case fieldValueAbsent:
				kind = tag.KindAbsent
			case fieldValueBits:
				bits = int(v)
			}
			return n, nil
		case fieldValueFloat:
			if typ != protowire.Fixed64Type {
				return 0, fmt.Errorf("wire: field %d has type %d", num, typ)
			}
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			kind, f = tag.KindFloat, math.Float64frombits(v)
			return n, nil
		case fieldValueString, fieldValueMap:
			if typ != protowire.BytesType {
				return 0, fmt.Errorf("wire: field %d has type %d", num, typ)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			if num == fieldValueString {
				kind, s = tag.KindString, string(raw)
				return n, nil
			}
			attrs, err := consumeAttrs(raw)
			if err != nil {
				return 0, err
			}
			kind, m = tag.KindMap, attrs
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return tag.Value{}, err
	}
	return buildValue(kind, bits, i, u, f, bl, s, m)
}

func buildValue(kind tag.Kind, bits int, i int64, u uint64, f float64, b bool, s string, m tag.Attributes) (tag.Value, error) {
	switch kind {
	case tag.KindInt:
		switch bits {
		case 8:
			return tag.Int8(int8(i)), nil
		case 16:
			return tag.Int16(int16(i)), nil
		case 32:
			return tag.Int32(int32(i)), nil
		case 64:
			return tag.Int64(i), nil
		}
	case tag.KindUint:
		switch bits {
		case 8:
			return tag.Uint8(uint8(u)), nil
		case 16:
			return tag.Uint16(uint16(u)), nil
		case 32:
			return tag.Uint32(uint32(u)), nil
		case 64:
			return tag.Uint64(u), nil
		}
	case tag.KindFloat:
		switch bits {
		case 32:
			return tag.Float32(float32(f)), nil
		case 64:
			return tag.Float64(f), nil
		}
	case tag.KindBool:
		return tag.Bool(b), nil
	case tag.KindString:
		return tag.String(s), nil
	case tag.KindMap:
		return tag.Map(m), nil
	default:
		return tag.Absent(), nil
	}
	return tag.Value{}, fmt.Errorf("wire: unsupported %s width %d", kind, bits)
}
