// Package stream describes tagged item streams as they flow between stages.
package stream

import (
	"fmt"

	"github.com/drblury/pktflow/internal/runtime/tag"
)

// Item is one stream element at an absolute offset. Tag is nil for untagged
// items; when set, Tag.Offset equals Offset.
type Item[T any] struct {
	Offset uint64
	Value  T
	Tag    *tag.Tag
}

// Tagged returns an item carrying attrs.
func Tagged[T any](offset uint64, value T, attrs tag.Attributes) Item[T] {
	t := tag.Tag{Offset: offset, Attrs: attrs}
	return Item[T]{Offset: offset, Value: value, Tag: &t}
}

// Attrs returns the item's attributes, empty when untagged.
func (it Item[T]) Attrs() tag.Attributes {
	if it.Tag == nil {
		return tag.Attributes{}
	}
	return it.Tag.Attrs
}

// FromValues lays values out from offset start and attaches tags by absolute
// offset. Tags sharing an offset are folded in order. Tags outside the range
// are returned as the second result.
func FromValues[T any](start uint64, values []T, tags []tag.Tag) ([]Item[T], []tag.Tag) {
	items := make([]Item[T], len(values))
	for i, v := range values {
		items[i] = Item[T]{Offset: start + uint64(i), Value: v}
	}
	var outside []tag.Tag
	for _, t := range tags {
		if t.Offset < start || t.Offset-start >= uint64(len(values)) {
			outside = append(outside, t)
			continue
		}
		idx := t.Offset - start
		if items[idx].Tag == nil {
			tt := t
			items[idx].Tag = &tt
			continue
		}
		merged := tag.Tag{Offset: t.Offset, Attrs: items[idx].Tag.Attrs.Merge(t.Attrs)}
		items[idx].Tag = &merged
	}
	return items, outside
}

// Split separates items into values and the tags they carry.
func Split[T any](items []Item[T]) ([]T, []tag.Tag) {
	values := make([]T, len(items))
	var tags []tag.Tag
	for i, it := range items {
		values[i] = it.Value
		if it.Tag != nil {
			tags = append(tags, *it.Tag)
		}
	}
	return values, tags
}

// CheckOffsets verifies offsets are strictly increasing and that every tag sits on its item.
func CheckOffsets[T any](items []Item[T]) error {
	for i, it := range items {
		if i > 0 && it.Offset <= items[i-1].Offset {
			return fmt.Errorf("stream: offset %d follows %d", it.Offset, items[i-1].Offset)
		}
		if it.Tag != nil && it.Tag.Offset != it.Offset {
			return fmt.Errorf("stream: tag offset %d on item %d", it.Tag.Offset, it.Offset)
		}
	}
	return nil
}
