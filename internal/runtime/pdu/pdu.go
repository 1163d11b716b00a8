// Package pdu converts between tagged item streams and discrete packets.
package pdu

import (
	"fmt"
	"slices"

	"github.com/drblury/pktflow/internal/runtime/tag"
)

// Pdu is a discrete packet: a contiguous run of items plus the tags that were
// attached to them, with offsets relative to the first item.
type Pdu[T any] struct {
	Data []T
	Tags []tag.Tag
}

// New builds a Pdu, sorting tags by offset and validating them.
func New[T any](data []T, tags ...tag.Tag) (Pdu[T], error) {
	p := Pdu[T]{Data: data, Tags: slices.Clone(tags)}
	tag.Sort(p.Tags)
	if err := p.Validate(); err != nil {
		return Pdu[T]{}, err
	}
	return p, nil
}

// Len is the number of items.
func (p Pdu[T]) Len() int { return len(p.Data) }

// Validate checks that tag offsets are in range and sorted.
func (p Pdu[T]) Validate() error {
	n := uint64(len(p.Data))
	for i, t := range p.Tags {
		if t.Offset >= n {
			return fmt.Errorf("pdu: tag %d offset %d outside %d items", i, t.Offset, n)
		}
		if i > 0 && t.Offset < p.Tags[i-1].Offset {
			return fmt.Errorf("pdu: tag %d offset %d precedes %d", i, t.Offset, p.Tags[i-1].Offset)
		}
	}
	return nil
}

// Clone returns a copy that shares nothing mutable with p.
func (p Pdu[T]) Clone() Pdu[T] {
	return Pdu[T]{Data: slices.Clone(p.Data), Tags: slices.Clone(p.Tags)}
}

// TagsAt returns the tags at relative offset off.
func (p Pdu[T]) TagsAt(off uint64) []tag.Tag {
	var out []tag.Tag
	for _, t := range p.Tags {
		if t.Offset == off {
			out = append(out, t)
		}
	}
	return out
}

// Equal compares two Pdus using eq for items.
func Equal[T any](a, b Pdu[T], eq func(x, y T) bool) bool {
	if len(a.Data) != len(b.Data) || len(a.Tags) != len(b.Tags) {
		return false
	}
	for i := range a.Data {
		if !eq(a.Data[i], b.Data[i]) {
			return false
		}
	}
	for i := range a.Tags {
		if !a.Tags[i].Equal(b.Tags[i]) {
			return false
		}
	}
	return true
}

// Bytes is the packet form used by device, capture and transport adapters.
type Bytes = Pdu[byte]
