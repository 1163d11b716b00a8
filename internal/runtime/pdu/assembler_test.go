package pdu

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

func boundary(n uint64, extra ...tag.Entry) tag.Attributes {
	return tag.NewAttributes(append([]tag.Entry{tag.KV(tag.DefaultBoundaryKey, tag.Uint64(n))}, extra...)...)
}

func seq(start uint64, n int) []stream.Item[int] {
	items := make([]stream.Item[int], n)
	for i := range items {
		items[i] = stream.Item[int]{Offset: start + uint64(i), Value: int(start) + i}
	}
	return items
}

func newAssembler(t *testing.T, opts ...Option) *Assembler[int] {
	t.Helper()
	a, err := NewAssembler[int](AssemblerConfig{StreamID: "rx"}, opts...)
	require.NoError(t, err)
	return a
}

func TestAssemblerSinglePacket(t *testing.T) {
	a := newAssembler(t)
	items := seq(0, 4)
	items[0] = stream.Tagged(0, 0, boundary(4))
	items[2] = stream.Tagged(2, 2, tag.NewAttributes(tag.KV("snr", tag.Float32(7))))

	pdus := a.PushAll(items)
	require.Len(t, pdus, 1)
	assert.Equal(t, []int{0, 1, 2, 3}, pdus[0].Data)
	require.Len(t, pdus[0].Tags, 1)
	assert.Equal(t, uint64(2), pdus[0].Tags[0].Offset)
	assert.NoError(t, pdus[0].Validate())
	assert.False(t, a.Collecting())
	assert.Equal(t, uint64(1), a.Stats().Pdus)
}

func TestAssemblerRetainsNonBoundaryAttributesAtZero(t *testing.T) {
	a := newAssembler(t)
	items := seq(10, 2)
	items[0] = stream.Tagged(10, 10, boundary(2, tag.KV("burst", tag.Uint32(3))))

	pdus := a.PushAll(items)
	require.Len(t, pdus, 1)
	require.Len(t, pdus[0].Tags, 1)
	assert.Equal(t, uint64(0), pdus[0].Tags[0].Offset)
	assert.Equal(t, "{burst: 3}", pdus[0].Tags[0].Attrs.String())
}

func TestAssemblerPrematureBoundaryRecovery(t *testing.T) {
	var seen []*errspkg.ViolationError
	a := newAssembler(t, WithHooks(Hooks{OnViolation: func(v *errspkg.ViolationError) { seen = append(seen, v) }}))

	items := seq(0, 10)
	items[0] = stream.Tagged(0, 0, boundary(10))
	items[4] = stream.Tagged(4, 4, boundary(6))

	pdus := a.PushAll(items)
	require.Len(t, pdus, 1)
	assert.Len(t, pdus[0].Data, 6)
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9}, pdus[0].Data)
	assert.Equal(t, uint64(1), a.Stats().Violations())
	assert.Equal(t, uint64(4), a.Stats().DiscardedItems)

	require.Len(t, seen, 1)
	assert.True(t, errors.Is(seen[0], errspkg.ErrPrematureBoundary))
	assert.Equal(t, uint64(10), seen[0].Expected)
	assert.Equal(t, uint64(4), seen[0].Collected)
}

func TestAssemblerOrphanTagDropped(t *testing.T) {
	var orphans []Orphan
	a := newAssembler(t, WithHooks(Hooks{OnOrphan: func(o Orphan) { orphans = append(orphans, o) }}))
	orphan := stream.Tagged(0, 1, tag.NewAttributes(tag.KV("snr", tag.Float64(3))))

	_, ok := a.Push(orphan)
	assert.False(t, ok)
	_, ok = a.Push(stream.Item[int]{Offset: 1, Value: 2})
	assert.False(t, ok)
	assert.Equal(t, uint64(0), a.Stats().Pdus)
	assert.Equal(t, uint64(1), a.Stats().OrphanTags)
	assert.Equal(t, uint64(2), a.Stats().OrphanItems)

	require.Len(t, orphans, 2)
	assert.Equal(t, "{snr: 3}", orphans[0].Attrs.String())
	assert.Equal(t, uint64(1), orphans[1].Offset)
	assert.True(t, orphans[1].Attrs.IsEmpty())
}

func TestAssemblerOrphanItemsBeforeFirstBoundary(t *testing.T) {
	a := newAssembler(t)
	items := seq(0, 5)
	items[3] = stream.Tagged(3, 3, boundary(2))

	pdus := a.PushAll(items)
	require.Len(t, pdus, 1)
	assert.Equal(t, []int{3, 4}, pdus[0].Data)
	assert.Equal(t, uint64(3), a.Stats().OrphanItems)
	assert.Equal(t, uint64(0), a.Stats().OrphanTags)
}

func TestAssemblerMalformedBoundary(t *testing.T) {
	cases := map[string]tag.Attributes{
		"zero":     tag.NewAttributes(tag.KV(tag.DefaultBoundaryKey, tag.Uint64(0))),
		"negative": tag.NewAttributes(tag.KV(tag.DefaultBoundaryKey, tag.Int64(-1))),
		"float":    tag.NewAttributes(tag.KV(tag.DefaultBoundaryKey, tag.Float64(4))),
	}
	for name, attrs := range cases {
		t.Run(name, func(t *testing.T) {
			a := newAssembler(t)
			items := seq(0, 6)
			items[0] = stream.Tagged(0, 0, boundary(5))
			items[2] = stream.Tagged(2, 2, attrs)

			pdus := a.PushAll(items)
			assert.Empty(t, pdus)
			assert.Equal(t, uint64(1), a.Stats().MalformedBoundary)
			assert.Equal(t, uint64(1), a.Stats().Violations())
			assert.Equal(t, uint64(3), a.Stats().OrphanItems, "items after the malformed boundary have no packet")
		})
	}
}

func TestAssemblerMaxPacketLen(t *testing.T) {
	a, err := NewAssembler[int](AssemblerConfig{MaxPacketLen: 8})
	require.NoError(t, err)

	_, ok := a.Push(stream.Tagged(0, 0, boundary(9)))
	assert.False(t, ok)
	assert.Equal(t, uint64(1), a.Stats().MalformedBoundary)
}

func TestAssemblerBackToBackPackets(t *testing.T) {
	a := newAssembler(t)
	items := seq(0, 5)
	items[0] = stream.Tagged(0, 0, boundary(2))
	items[2] = stream.Tagged(2, 2, boundary(3))

	pdus := a.PushAll(items)
	require.Len(t, pdus, 2)
	assert.Equal(t, []int{0, 1}, pdus[0].Data)
	assert.Equal(t, []int{2, 3, 4}, pdus[1].Data)
	assert.Zero(t, a.Stats().Violations())
}

func TestAssemblerSingleItemPacket(t *testing.T) {
	a := newAssembler(t)
	p, ok := a.Push(stream.Tagged(7, 42, boundary(1)))
	require.True(t, ok)
	assert.Equal(t, []int{42}, p.Data)
	assert.Empty(t, p.Tags)
}

func TestAssemblerCustomBoundaryKey(t *testing.T) {
	a, err := NewAssembler[int](AssemblerConfig{BoundaryKey: "frame_len"})
	require.NoError(t, err)

	items := seq(0, 2)
	items[0] = stream.Tagged(0, 0, tag.NewAttributes(tag.KV("frame_len", tag.Uint16(2)), tag.KV(tag.DefaultBoundaryKey, tag.Uint64(99))))
	pdus := a.PushAll(items)
	require.Len(t, pdus, 1)
	assert.Equal(t, "{packet_len: 99}", pdus[0].Tags[0].Attrs.String())
}

func TestAssemblerReset(t *testing.T) {
	a := newAssembler(t)
	a.Push(stream.Tagged(0, 0, boundary(3)))
	assert.True(t, a.Reset())
	assert.False(t, a.Reset())
	assert.Zero(t, a.Stats().Violations())
	assert.Equal(t, uint64(1), a.Stats().DiscardedItems)
}

func TestAssemblerRejectsNegativeCapacityHint(t *testing.T) {
	_, err := NewAssembler[int](AssemblerConfig{CapacityHint: -1})
	var cfgErr errspkg.ConfigValidationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestAssemblerRecordsMetrics(t *testing.T) {
	rec := metrics.NewPrometheus(prometheus.NewRegistry())
	a := newAssembler(t, WithRecorder(rec))

	items := seq(0, 3)
	items[0] = stream.Tagged(0, 0, boundary(2))
	a.PushAll(items)
	a.Push(stream.Tagged(3, 3, tag.NewAttributes(tag.KV("x", tag.Bool(true)))))

	snap := rec.Snapshot().Streams["rx"]
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Pdus[metrics.DirectionAssembled])
	assert.Equal(t, uint64(2), snap.Items)
	assert.Equal(t, uint64(2), snap.Violations[string(errspkg.ViolationOrphanItem)])
	assert.Equal(t, uint64(1), snap.Violations[string(errspkg.ViolationOrphanTag)])
}
