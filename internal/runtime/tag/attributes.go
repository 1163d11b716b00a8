package tag

import "strings"

// Entry is one key/value pair of an Attributes map.
type Entry struct {
	Key   string
	Value Value
}

// KV builds an Entry.
func KV(key string, v Value) Entry { return Entry{Key: key, Value: v} }

// Attributes is an immutable string-keyed map that preserves insertion order.
// Replacing an existing key keeps its original position.
type Attributes struct {
	entries []Entry
}

// NewAttributes builds an Attributes map; a repeated key replaces the earlier value in place.
func NewAttributes(entries ...Entry) Attributes {
	var a Attributes
	for _, e := range entries {
		a = a.Set(e.Key, e.Value)
	}
	return a
}

func (a Attributes) Len() int      { return len(a.entries) }
func (a Attributes) IsEmpty() bool { return len(a.entries) == 0 }

func (a Attributes) index(key string) int {
	for i := range a.entries {
		if a.entries[i].Key == key {
			return i
		}
	}
	return -1
}

func (a Attributes) Get(key string) (Value, bool) {
	if i := a.index(key); i >= 0 {
		return a.entries[i].Value, true
	}
	return Value{}, false
}

func (a Attributes) Has(key string) bool { return a.index(key) >= 0 }

// Set returns a copy of a with key bound to v.
func (a Attributes) Set(key string, v Value) Attributes {
	i := a.index(key)
	if i >= 0 {
		out := a.clone(0)
		out.entries[i].Value = v
		return out
	}
	out := a.clone(1)
	out.entries = append(out.entries, Entry{Key: key, Value: v})
	return out
}

// Delete returns a copy of a without key.
func (a Attributes) Delete(key string) Attributes {
	i := a.index(key)
	if i < 0 {
		return a
	}
	out := Attributes{entries: make([]Entry, 0, len(a.entries)-1)}
	out.entries = append(out.entries, a.entries[:i]...)
	out.entries = append(out.entries, a.entries[i+1:]...)
	return out
}

// Merge returns a copy of a overlaid with b. Keys from b win; keys new to a are
// appended in b's order.
func (a Attributes) Merge(b Attributes) Attributes {
	if b.IsEmpty() {
		return a
	}
	if a.IsEmpty() {
		return b
	}
	out := a.clone(b.Len())
	for _, e := range b.entries {
		if i := out.index(e.Key); i >= 0 {
			out.entries[i].Value = e.Value
			continue
		}
		out.entries = append(out.entries, e)
	}
	return out
}

// Entries returns a copy of the ordered entries.
func (a Attributes) Entries() []Entry {
	if len(a.entries) == 0 {
		return nil
	}
	return append([]Entry(nil), a.entries...)
}

func (a Attributes) Keys() []string {
	keys := make([]string, len(a.entries))
	for i, e := range a.entries {
		keys[i] = e.Key
	}
	return keys
}

// Each calls fn in order until it returns false.
func (a Attributes) Each(fn func(key string, v Value) bool) {
	for _, e := range a.entries {
		if !fn(e.Key, e.Value) {
			return
		}
	}
}

// Equal reports whether both maps hold the same entries in the same order.
func (a Attributes) Equal(b Attributes) bool {
	if len(a.entries) != len(b.entries) {
		return false
	}
	for i := range a.entries {
		if a.entries[i].Key != b.entries[i].Key || !a.entries[i].Value.Equal(b.entries[i].Value) {
			return false
		}
	}
	return true
}

// Fields flattens the map for structured logging.
func (a Attributes) Fields() map[string]any {
	out := make(map[string]any, len(a.entries))
	for _, e := range a.entries {
		out[e.Key] = e.Value.Any()
	}
	return out
}

func (a Attributes) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range a.entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.Key)
		sb.WriteString(": ")
		sb.WriteString(e.Value.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

func (a Attributes) clone(extra int) Attributes {
	out := Attributes{entries: make([]Entry, len(a.entries), len(a.entries)+extra)}
	copy(out.entries, a.entries)
	return out
}
