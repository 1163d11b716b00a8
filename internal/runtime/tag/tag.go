// Package tag holds the stream metadata model: attribute values, ordered
// attribute maps and tags anchored to absolute item offsets.
package tag

import (
	"fmt"
	"math"
	"slices"
)

// DefaultBoundaryKey is the attribute that marks the first item of a packet.
const DefaultBoundaryKey = "packet_len"

// Tag anchors an attribute map to the item at Offset.
type Tag struct {
	Offset uint64
	Attrs  Attributes
}

// New builds a tag from ordered entries.
func New(offset uint64, entries ...Entry) Tag {
	return Tag{Offset: offset, Attrs: NewAttributes(entries...)}
}

// At returns a copy of t moved to offset.
func (t Tag) At(offset uint64) Tag {
	return Tag{Offset: offset, Attrs: t.Attrs}
}

func (t Tag) Equal(o Tag) bool {
	return t.Offset == o.Offset && t.Attrs.Equal(o.Attrs)
}

func (t Tag) String() string {
	return fmt.Sprintf("@%d %s", t.Offset, t.Attrs)
}

// Fold merges the attribute maps of the present tags in order, later tags
// winning on key collisions. Nil entries are skipped.
func Fold(tags ...*Tag) Attributes {
	var out Attributes
	for _, t := range tags {
		if t == nil {
			continue
		}
		out = out.Merge(t.Attrs)
	}
	return out
}

// Sort orders tags by offset, keeping insertion order for equal offsets.
func Sort(tags []Tag) {
	slices.SortStableFunc(tags, func(a, b Tag) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})
}

// Boundary describes how a tag relates to a packet boundary key.
type Boundary int

const (
	// NoBoundary means the key is not present.
	NoBoundary Boundary = iota
	// ValidBoundary means the key holds a positive integer length.
	ValidBoundary
	// MalformedBoundary means the key is present but the value is not a positive integer.
	MalformedBoundary
)

// BoundaryLength inspects attrs for key and returns the declared packet length.
func BoundaryLength(attrs Attributes, key string) (uint64, Boundary) {
	v, ok := attrs.Get(key)
	if !ok {
		return 0, NoBoundary
	}
	n, ok := v.AsUint64()
	if !ok || n == 0 {
		return 0, MalformedBoundary
	}
	return n, ValidBoundary
}

// RoundLength scales an item count and rounds half away from zero.
// It reports false when the result does not fit in a uint64.
func RoundLength(n uint64, ratio float64) (uint64, bool) {
	r := math.Round(float64(n) * ratio)
	if math.IsNaN(r) || r < 0 || r >= math.MaxUint64 {
		return 0, false
	}
	return uint64(r), true
}
