package stage

import (
	"errors"
	"fmt"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// StreamToTagged cuts an untagged stream into packets of a fixed length by
// tagging every length-th item with the boundary key. Other attributes pass
// through; boundary keys already on the input are replaced.
type StreamToTagged[T any] struct {
	length uint64
	key    string
	next   uint64
}

// NewStreamToTagged builds a StreamToTagged. An empty key means
// tag.DefaultBoundaryKey.
func NewStreamToTagged[T any](length uint64, key string) (*StreamToTagged[T], error) {
	if length == 0 {
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("stage: packet length must be positive"))
	}
	if key == "" {
		key = tag.DefaultBoundaryKey
	}
	return &StreamToTagged[T]{length: length, key: key}, nil
}

func (s *StreamToTagged[T]) Process(in []stream.Item[T]) []stream.Item[T] {
	out := make([]stream.Item[T], len(in))
	for i, it := range in {
		off := s.next
		s.next++
		out[i] = stream.Item[T]{Offset: off, Value: it.Value}
		attrs := it.Attrs().Delete(s.key)
		if off%s.length == 0 {
			attrs = tag.NewAttributes(tag.KV(s.key, tag.Uint64(s.length))).Merge(attrs)
		}
		if !attrs.IsEmpty() {
			out[i].Tag = &tag.Tag{Offset: off, Attrs: attrs}
		}
	}
	return out
}

// MuxStats counts Mux outcomes.
type MuxStats struct {
	Packets uint64
	// Dropped counts items discarded because no boundary tag opened a packet
	// on their port.
	Dropped uint64
}

// Mux concatenates one packet from each input port, in port order, into one
// output packet whose boundary length is the sum of the input lengths.
// Packets are buffered until every port holds a complete one.
type Mux[T any] struct {
	ports   int
	key     string
	pending [][]stream.Item[T]
	lens    []uint64
	next    uint64
	stats   MuxStats
}

// NewMux builds a Mux. An empty key means tag.DefaultBoundaryKey.
func NewMux[T any](ports int, key string) (*Mux[T], error) {
	if ports < 1 {
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("%w: mux needs at least one port", errspkg.ErrPortMismatch))
	}
	if key == "" {
		key = tag.DefaultBoundaryKey
	}
	return &Mux[T]{
		ports:   ports,
		key:     key,
		pending: make([][]stream.Item[T], ports),
		lens:    make([]uint64, ports),
	}, nil
}

func (m *Mux[T]) Stats() MuxStats { return m.stats }

// Process buffers one batch per port and emits every packet that can be
// completed. Items that do not start a packet are dropped and reported as
// violations in the joined error; processing continues past them.
func (m *Mux[T]) Process(in ...[]stream.Item[T]) ([]stream.Item[T], error) {
	if len(in) != m.ports {
		return nil, fmt.Errorf("%w: got %d, want %d", errspkg.ErrPortMismatch, len(in), m.ports)
	}
	for p, batch := range in {
		m.pending[p] = append(m.pending[p], batch...)
	}

	var (
		out  []stream.Item[T]
		errs []error
	)
	for {
		ready := true
		for p := range m.pending {
			n, dropped := m.headLength(p)
			errs = append(errs, dropped...)
			if n == 0 || uint64(len(m.pending[p])) < n {
				ready = false
			}
			m.lens[p] = n
		}
		if !ready {
			break
		}
		out = m.emit(out)
	}
	return out, errors.Join(errs...)
}

// headLength discards items at the head of port p until one carries a valid
// boundary and returns its length, or 0 when the port ran dry.
func (m *Mux[T]) headLength(p int) (uint64, []error) {
	var errs []error
	for len(m.pending[p]) > 0 {
		head := m.pending[p][0]
		n, b := tag.BoundaryLength(head.Attrs(), m.key)
		if b == tag.ValidBoundary {
			return n, errs
		}
		kind := errspkg.ViolationOrphanItem
		if b == tag.MalformedBoundary {
			kind = errspkg.ViolationMalformedBoundary
		}
		errs = append(errs, fmt.Errorf("port %d: %w", p, errspkg.NewViolation(kind, "", head.Offset)))
		m.stats.Dropped++
		m.pending[p] = m.pending[p][1:]
	}
	return 0, errs
}

func (m *Mux[T]) emit(out []stream.Item[T]) []stream.Item[T] {
	var total uint64
	for _, n := range m.lens {
		total += n
	}
	for p, n := range m.lens {
		for i, it := range m.pending[p][:n] {
			off := m.next
			m.next++
			item := stream.Item[T]{Offset: off, Value: it.Value}
			attrs := it.Attrs().Delete(m.key)
			if p == 0 && i == 0 {
				attrs = tag.NewAttributes(tag.KV(m.key, tag.Uint64(total))).Merge(attrs)
			}
			if !attrs.IsEmpty() {
				item.Tag = &tag.Tag{Offset: off, Attrs: attrs}
			}
			out = append(out, item)
		}
		m.pending[p] = m.pending[p][n:]
	}
	m.stats.Packets++
	return out
}

// Concat joins packets in order into one packet. Tags keep their position
// relative to the data they were attached to.
func Concat[T any](parts ...pdu.Pdu[T]) (pdu.Pdu[T], error) {
	var size, ntags int
	for _, p := range parts {
		size += len(p.Data)
		ntags += len(p.Tags)
	}
	if size == 0 {
		return pdu.Pdu[T]{}, errspkg.ErrEmptyPdu
	}
	out := pdu.Pdu[T]{Data: make([]T, 0, size)}
	if ntags > 0 {
		out.Tags = make([]tag.Tag, 0, ntags)
	}
	for _, p := range parts {
		base := uint64(len(out.Data))
		for _, t := range p.Tags {
			out.Tags = append(out.Tags, t.At(base+t.Offset))
		}
		out.Data = append(out.Data, p.Data...)
	}
	return out, nil
}
