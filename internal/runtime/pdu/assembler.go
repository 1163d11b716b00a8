package pdu

import (
	"fmt"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/ids"
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

const defaultCapacityHint = 4096

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	// StreamID labels logs and metrics. A random id is used when empty.
	StreamID string
	// BoundaryKey defaults to tag.DefaultBoundaryKey.
	BoundaryKey string
	// CapacityHint caps the initial allocation of a packet buffer.
	CapacityHint int
	// MaxPacketLen rejects boundaries declaring more items, 0 for no limit.
	MaxPacketLen uint64
}

func (c AssemblerConfig) withDefaults() AssemblerConfig {
	if c.StreamID == "" {
		c.StreamID = ids.NewStreamID()
	}
	if c.BoundaryKey == "" {
		c.BoundaryKey = tag.DefaultBoundaryKey
	}
	if c.CapacityHint == 0 {
		c.CapacityHint = defaultCapacityHint
	}
	return c
}

// Validate reports configuration problems.
func (c AssemblerConfig) Validate() error {
	if c.CapacityHint < 0 {
		return fmt.Errorf("pdu: capacity hint must not be negative, got %d", c.CapacityHint)
	}
	return nil
}

// AssemblerStats counts what an Assembler has seen.
type AssemblerStats struct {
	Pdus              uint64
	Items             uint64
	PrematureBoundary uint64
	MalformedBoundary uint64
	OrphanItems       uint64
	OrphanTags        uint64
	DiscardedItems    uint64
}

// Violations is the number of packets abandoned because of a bad boundary.
func (s AssemblerStats) Violations() uint64 {
	return s.PrematureBoundary + s.MalformedBoundary
}

// Assembler folds a tagged item stream into Pdus. Items between a boundary
// tag and the end of its declared length form one Pdu. The boundary key is
// stripped from the first tag; its remaining attributes stay at offset 0.
//
// An Assembler serves exactly one stream and is not safe for concurrent use.
type Assembler[T any] struct {
	cfg  AssemblerConfig
	opts options
	log  logging.ServiceLogger

	collecting bool
	target     uint64
	start      uint64
	data       []T
	tags       []tag.Tag

	stats AssemblerStats
}

// NewAssembler validates cfg and builds an Assembler.
func NewAssembler[T any](cfg AssemblerConfig, opts ...Option) (*Assembler[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	cfg = cfg.withDefaults()
	o := buildOptions(opts)
	return &Assembler[T]{
		cfg:  cfg,
		opts: o,
		log:  o.logger.With(logging.LogFields{"stream": cfg.StreamID, "component": "pdu_assembler"}),
	}, nil
}

// StreamID returns the stream label.
func (a *Assembler[T]) StreamID() string { return a.cfg.StreamID }

// Stats returns a copy of the counters.
func (a *Assembler[T]) Stats() AssemblerStats { return a.stats }

// Collecting reports whether a packet is in progress.
func (a *Assembler[T]) Collecting() bool { return a.collecting }

// Push consumes one item and returns a Pdu when the item completes one.
func (a *Assembler[T]) Push(it stream.Item[T]) (Pdu[T], bool) {
	var (
		n    uint64
		kind = tag.NoBoundary
	)
	if it.Tag != nil {
		n, kind = tag.BoundaryLength(it.Tag.Attrs, a.cfg.BoundaryKey)
		if kind == tag.ValidBoundary && a.cfg.MaxPacketLen > 0 && n > a.cfg.MaxPacketLen {
			kind = tag.MalformedBoundary
		}
	}

	switch kind {
	case tag.MalformedBoundary:
		a.violate(errspkg.ViolationMalformedBoundary, it.Offset)
		a.abandon()
		a.stats.DiscardedItems++
		return Pdu[T]{}, false
	case tag.ValidBoundary:
		if a.collecting {
			a.violate(errspkg.ViolationPrematureBoundary, it.Offset)
			a.abandon()
		}
		a.begin(it, n)
	default:
		if !a.collecting {
			a.orphan(it)
			return Pdu[T]{}, false
		}
		if it.Tag != nil {
			a.tags = append(a.tags, tag.Tag{Offset: uint64(len(a.data)), Attrs: it.Tag.Attrs})
		}
		a.data = append(a.data, it.Value)
	}

	if uint64(len(a.data)) < a.target {
		return Pdu[T]{}, false
	}
	return a.emit(), true
}

// PushAll feeds items in order and returns every completed Pdu.
func (a *Assembler[T]) PushAll(items []stream.Item[T]) []Pdu[T] {
	var out []Pdu[T]
	for _, it := range items {
		if p, ok := a.Push(it); ok {
			out = append(out, p)
		}
	}
	return out
}

// Reset abandons any packet in progress without counting a violation. It
// reports whether a partial packet was dropped.
func (a *Assembler[T]) Reset() bool {
	had := a.collecting
	if had {
		a.stats.DiscardedItems += uint64(len(a.data))
		a.log.Debug("Partial packet dropped on reset", logging.LogFields{
			"expected":  a.target,
			"collected": len(a.data),
		})
	}
	a.clear()
	return had
}

func (a *Assembler[T]) begin(it stream.Item[T], n uint64) {
	capacity := n
	if capacity > uint64(a.cfg.CapacityHint) {
		capacity = uint64(a.cfg.CapacityHint)
	}
	a.collecting = true
	a.target = n
	a.start = it.Offset
	a.data = make([]T, 0, capacity)
	a.tags = nil
	if rest := it.Tag.Attrs.Delete(a.cfg.BoundaryKey); !rest.IsEmpty() {
		a.tags = append(a.tags, tag.Tag{Offset: 0, Attrs: rest})
	}
	a.data = append(a.data, it.Value)
}

func (a *Assembler[T]) emit() Pdu[T] {
	p := Pdu[T]{Data: a.data, Tags: a.tags}
	ev := Event{StreamID: a.cfg.StreamID, Offset: a.start, Items: len(p.Data), Tags: len(p.Tags)}
	a.stats.Pdus++
	a.stats.Items += uint64(len(p.Data))
	a.clear()

	a.opts.recorder.Pdu(a.cfg.StreamID, metrics.DirectionAssembled, ev.Items)
	a.opts.recorder.Items(a.cfg.StreamID, ev.Items)
	if a.opts.hooks.OnPdu != nil {
		a.opts.hooks.OnPdu(ev)
	}
	a.log.Trace("Packet assembled", logging.LogFields{"offset": ev.Offset, "items": ev.Items, "tags": ev.Tags})
	return p
}

func (a *Assembler[T]) abandon() {
	if a.collecting {
		a.stats.DiscardedItems += uint64(len(a.data))
	}
	a.clear()
}

func (a *Assembler[T]) clear() {
	a.collecting = false
	a.target = 0
	a.start = 0
	a.data = nil
	a.tags = nil
}

func (a *Assembler[T]) violate(kind errspkg.ViolationKind, offset uint64) {
	v := errspkg.NewViolation(kind, a.cfg.StreamID, offset)
	if a.collecting {
		v.Expected = a.target
		v.Collected = uint64(len(a.data))
	}
	switch kind {
	case errspkg.ViolationPrematureBoundary:
		a.stats.PrematureBoundary++
	case errspkg.ViolationMalformedBoundary:
		a.stats.MalformedBoundary++
	}
	a.report(v)
	a.log.Error("Packet abandoned", v, logging.LogFields{
		"offset":    offset,
		"kind":      string(kind),
		"expected":  v.Expected,
		"collected": v.Collected,
	})
}

func (a *Assembler[T]) orphan(it stream.Item[T]) {
	a.stats.OrphanItems++
	a.report(errspkg.NewViolation(errspkg.ViolationOrphanItem, a.cfg.StreamID, it.Offset))
	if a.opts.hooks.OnOrphan != nil {
		a.opts.hooks.OnOrphan(Orphan{StreamID: a.cfg.StreamID, Offset: it.Offset, Attrs: it.Attrs()})
	}
	if it.Tag == nil {
		return
	}
	a.stats.OrphanTags++
	v := errspkg.NewViolation(errspkg.ViolationOrphanTag, a.cfg.StreamID, it.Offset)
	a.report(v)
	a.log.Debug("Tag outside any packet dropped", logging.LogFields{
		"offset": it.Offset,
		"attrs":  it.Tag.Attrs.String(),
	})
}

func (a *Assembler[T]) report(v *errspkg.ViolationError) {
	a.opts.recorder.Violation(a.cfg.StreamID, string(v.Kind))
	if a.opts.hooks.OnViolation != nil {
		a.opts.hooks.OnViolation(v)
	}
}
