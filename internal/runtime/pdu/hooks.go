package pdu

import (
	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// Event describes one Pdu crossing the stream/packet boundary.
type Event struct {
	StreamID string
	// Offset is the absolute stream offset of the first item.
	Offset uint64
	Items  int
	Tags   int
}

// Orphan describes an item or tag that no packet claimed.
type Orphan struct {
	StreamID string
	// Offset is the absolute stream offset of the item or tag.
	Offset uint64
	// Attrs holds the dropped tag's attributes, empty for an untagged item.
	Attrs tag.Attributes
}

// Hooks are optional callbacks fired by the Assembler and Disassembler.
// Nil hooks are not called.
type Hooks struct {
	OnPdu       func(ev Event)
	OnViolation func(v *errspkg.ViolationError)
	OnOrphan    func(o Orphan)
}

// Merge combines two Hooks; other runs after h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnPdu:       chain(h.OnPdu, other.OnPdu),
		OnViolation: chain(h.OnViolation, other.OnViolation),
		OnOrphan:    chain(h.OnOrphan, other.OnOrphan),
	}
}

func chain[A any](a, b func(A)) func(A) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A) {
		a(x)
		b(x)
	}
}
