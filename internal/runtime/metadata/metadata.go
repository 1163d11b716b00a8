// Package metadata holds the string headers that travel next to an encoded
// packet in a transport message.
package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata is the header map of one packet message. Methods return new maps
// and never modify the receiver.
type Metadata map[string]string

// New builds Metadata from key, value pairs. A trailing key without a value
// is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 1; i < len(pairs); i += 2 {
		md[pairs[i-1]] = pairs[i]
	}
	return md
}

func (m Metadata) grow(extra int) Metadata {
	out := make(Metadata, len(m)+max(extra, 0))
	maps.Copy(out, m)
	return out
}

// Clone returns a copy; a nil receiver yields an empty map.
func (m Metadata) Clone() Metadata { return m.grow(0) }

// With returns a copy with key set to value.
func (m Metadata) With(key, value string) Metadata {
	out := m.grow(1)
	out[key] = value
	return out
}

// WithAll returns a copy overlaid with extra.
func (m Metadata) WithAll(extra Metadata) Metadata {
	out := m.grow(len(extra))
	maps.Copy(out, extra)
	return out
}

// Without returns a copy lacking keys.
func (m Metadata) Without(keys ...string) Metadata {
	out := m.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// FromWatermill copies the headers of a consumed message.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// ToWatermill copies m into headers for an outgoing message.
func ToWatermill(m Metadata) message.Metadata {
	return message.Metadata(m.Clone())
}
