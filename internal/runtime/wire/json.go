package wire

import (
	"github.com/drblury/pktflow/internal/runtime/jsoncodec"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// JSONPdu is the JSON shape of a packet. Byte items encode as base64.
type JSONPdu[T any] struct {
	Data []T       `json:"data"`
	Tags []tag.Tag `json:"tags,omitempty"`
}

// MarshalJSON validates and encodes p as JSON.
func MarshalJSON[T any](p pdu.Pdu[T]) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(JSONPdu[T]{Data: p.Data, Tags: p.Tags})
}

// UnmarshalJSON decodes and validates a JSON packet.
func UnmarshalJSON[T any](b []byte) (pdu.Pdu[T], error) {
	var j JSONPdu[T]
	if err := jsoncodec.Unmarshal(b, &j); err != nil {
		return pdu.Pdu[T]{}, malformed(err)
	}
	p := pdu.Pdu[T]{Data: j.Data, Tags: j.Tags}
	if err := p.Validate(); err != nil {
		return pdu.Pdu[T]{}, malformed(err)
	}
	return p, nil
}

// MarshalTags encodes a tag list as JSON.
func MarshalTags(tags []tag.Tag) ([]byte, error) {
	if tags == nil {
		tags = []tag.Tag{}
	}
	return jsoncodec.Marshal(tags)
}

// UnmarshalTags decodes a tag list produced by MarshalTags.
func UnmarshalTags(b []byte) ([]tag.Tag, error) {
	var tags []tag.Tag
	if err := jsoncodec.Unmarshal(b, &tags); err != nil {
		return nil, malformed(err)
	}
	return tags, nil
}
