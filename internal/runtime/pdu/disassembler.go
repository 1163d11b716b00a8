package pdu

import (
	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/ids"
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// DisassemblerConfig configures a Disassembler.
type DisassemblerConfig struct {
	StreamID    string
	BoundaryKey string
	// StartOffset is the absolute offset of the first emitted item.
	StartOffset uint64
}

// DisassemblerStats counts what a Disassembler has emitted.
type DisassemblerStats struct {
	Pdus       uint64
	Items      uint64
	EmptyPdus  uint64
	OrphanTags uint64
}

// Disassembler turns Pdus back into a tagged item stream. Every Pdu starts
// with a boundary tag holding its length; offsets keep increasing across Pdus.
// The boundary key is removed from the Pdu's own tags so that each Pdu yields
// exactly one boundary.
//
// A Disassembler serves exactly one stream and is not safe for concurrent use.
type Disassembler[T any] struct {
	cfg    DisassemblerConfig
	opts   options
	log    logging.ServiceLogger
	offset uint64
	stats  DisassemblerStats
}

// NewDisassembler builds a Disassembler.
func NewDisassembler[T any](cfg DisassemblerConfig, opts ...Option) *Disassembler[T] {
	if cfg.StreamID == "" {
		cfg.StreamID = ids.NewStreamID()
	}
	if cfg.BoundaryKey == "" {
		cfg.BoundaryKey = tag.DefaultBoundaryKey
	}
	o := buildOptions(opts)
	return &Disassembler[T]{
		cfg:    cfg,
		opts:   o,
		log:    o.logger.With(logging.LogFields{"stream": cfg.StreamID, "component": "pdu_disassembler"}),
		offset: cfg.StartOffset,
	}
}

// Offset is the absolute offset the next emitted item will carry.
func (d *Disassembler[T]) Offset() uint64 { return d.offset }

// Stats returns a copy of the counters.
func (d *Disassembler[T]) Stats() DisassemblerStats { return d.stats }

// Emit converts p into items. An empty Pdu is rejected with a violation
// matching errors.ErrEmptyPdu and leaves the offset unchanged.
func (d *Disassembler[T]) Emit(p Pdu[T]) ([]stream.Item[T], error) {
	n := uint64(len(p.Data))
	if n == 0 {
		d.stats.EmptyPdus++
		v := errspkg.NewViolation(errspkg.ViolationEmptyPdu, d.cfg.StreamID, d.offset)
		d.report(v)
		d.log.Error("Empty packet rejected", v, nil)
		return nil, v
	}

	base := d.offset
	items := make([]stream.Item[T], n)
	for i, v := range p.Data {
		items[i] = stream.Item[T]{Offset: base + uint64(i), Value: v}
	}

	folded := make(map[uint64]tag.Attributes, len(p.Tags))
	order := make([]uint64, 0, len(p.Tags))
	for _, t := range p.Tags {
		if t.Offset >= n {
			d.stats.OrphanTags++
			d.report(errspkg.NewViolation(errspkg.ViolationOrphanTag, d.cfg.StreamID, base+t.Offset))
			if d.opts.hooks.OnOrphan != nil {
				d.opts.hooks.OnOrphan(Orphan{StreamID: d.cfg.StreamID, Offset: base + t.Offset, Attrs: t.Attrs})
			}
			d.log.Debug("Tag outside packet dropped", logging.LogFields{"relative_offset": t.Offset, "items": n})
			continue
		}
		attrs := t.Attrs.Delete(d.cfg.BoundaryKey)
		if attrs.IsEmpty() {
			continue
		}
		if _, seen := folded[t.Offset]; !seen {
			order = append(order, t.Offset)
		}
		folded[t.Offset] = folded[t.Offset].Merge(attrs)
	}

	head := tag.NewAttributes(tag.KV(d.cfg.BoundaryKey, tag.Uint64(n))).Merge(folded[0])
	items[0].Tag = &tag.Tag{Offset: base, Attrs: head}
	for _, rel := range order {
		if rel == 0 {
			continue
		}
		items[rel].Tag = &tag.Tag{Offset: base + rel, Attrs: folded[rel]}
	}

	d.offset += n
	d.stats.Pdus++
	d.stats.Items += n
	d.opts.recorder.Pdu(d.cfg.StreamID, metrics.DirectionDisassembled, int(n))
	if d.opts.hooks.OnPdu != nil {
		d.opts.hooks.OnPdu(Event{StreamID: d.cfg.StreamID, Offset: base, Items: int(n), Tags: len(order)})
	}
	return items, nil
}

func (d *Disassembler[T]) report(v *errspkg.ViolationError) {
	d.opts.recorder.Violation(d.cfg.StreamID, string(v.Kind))
	if d.opts.hooks.OnViolation != nil {
		d.opts.hooks.OnViolation(v)
	}
}
