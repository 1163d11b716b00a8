package stage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

func boundaryOffsets[T any](in []stream.Item[T]) []uint64 {
	var offs []uint64
	for _, it := range in {
		if _, b := tag.BoundaryLength(it.Attrs(), tag.DefaultBoundaryKey); b == tag.ValidBoundary {
			offs = append(offs, it.Offset)
		}
	}
	return offs
}

func TestStreamToTaggedAcrossBatches(t *testing.T) {
	s, err := NewStreamToTagged[int](3, "")
	require.NoError(t, err)

	in := items(8, map[int]tag.Attributes{
		1: lengthTag(99, tag.KV("snr", tag.Float32(2))),
		3: tag.NewAttributes(tag.KV("burst", tag.Bool(true))),
	})
	out := s.Process(in[:2])
	out = append(out, s.Process(in[2:5])...)
	out = append(out, s.Process(in[5:])...)

	require.Len(t, out, 8)
	assert.NoError(t, stream.CheckOffsets(out))
	assert.Equal(t, []uint64{0, 3, 6}, boundaryOffsets(out))
	assert.Equal(t, "{packet_len: 3}", out[0].Tag.Attrs.String())
	assert.Equal(t, "{snr: 2}", out[1].Tag.Attrs.String())
	assert.Equal(t, "{packet_len: 3, burst: true}", out[3].Tag.Attrs.String())
	assert.Nil(t, out[2].Tag)

	_, err = NewStreamToTagged[int](0, "")
	assert.Error(t, err)
}

func TestStreamToTaggedFeedsAssembler(t *testing.T) {
	s, err := NewStreamToTagged[byte](4, "")
	require.NoError(t, err)
	asm, err := pdu.NewAssembler[byte](pdu.AssemblerConfig{})
	require.NoError(t, err)

	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(i)
	}
	in, _ := stream.FromValues(0, data, nil)
	pkts := asm.PushAll(s.Process(in))

	require.Len(t, pkts, 2)
	assert.Equal(t, []byte{0, 1, 2, 3}, pkts[0].Data)
	assert.Equal(t, []byte{4, 5, 6, 7}, pkts[1].Data)
	assert.True(t, asm.Collecting())
}

func TestMuxConcatenatesOnePacketPerPort(t *testing.T) {
	m, err := NewMux[int](2, "")
	require.NoError(t, err)

	a := items(3, map[int]tag.Attributes{0: lengthTag(2, tag.KV("src", tag.String("a"))), 2: lengthTag(1)})
	b := []stream.Item[int]{
		stream.Tagged(0, 10, lengthTag(3)),
		stream.Tagged(1, 11, tag.NewAttributes(tag.KV("snr", tag.Float32(1)))),
	}

	out, err := m.Process(a, b)
	require.NoError(t, err)
	assert.Empty(t, out, "second port has not completed its packet")

	more := []stream.Item[int]{{Offset: 2, Value: 12}, stream.Tagged(3, 13, lengthTag(1))}
	out, err = m.Process(nil, more)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 10, 11, 12, 2, 13}, values(out))
	assert.NoError(t, stream.CheckOffsets(out))
	assert.Equal(t, []uint64{0, 5}, boundaryOffsets(out))
	assert.Equal(t, `{packet_len: 5, src: "a"}`, out[0].Tag.Attrs.String())
	assert.Equal(t, "{snr: 1}", out[3].Tag.Attrs.String())
	assert.Equal(t, "{packet_len: 2}", out[5].Tag.Attrs.String())
	assert.Equal(t, uint64(2), m.Stats().Packets)
}

func TestMuxDropsItemsOutsidePackets(t *testing.T) {
	m, err := NewMux[int](1, "")
	require.NoError(t, err)

	in := items(4, map[int]tag.Attributes{2: lengthTag(2)})
	out, err := m.Process(in)

	var v *errspkg.ViolationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, errspkg.ViolationOrphanItem, v.Kind)
	assert.True(t, errors.Is(err, errspkg.ErrOrphanItem))
	assert.Equal(t, []int{2, 3}, values(out))
	assert.Equal(t, uint64(2), m.Stats().Dropped)
}

func TestMuxRejectsPortMismatch(t *testing.T) {
	_, err := NewMux[int](0, "")
	assert.True(t, errors.Is(err, errspkg.ErrPortMismatch))

	m, err := NewMux[int](2, "")
	require.NoError(t, err)
	_, err = m.Process(nil)
	assert.True(t, errors.Is(err, errspkg.ErrPortMismatch))
}

func TestConcatShiftsTags(t *testing.T) {
	a := pdu.Bytes{Data: []byte{1, 2}, Tags: []tag.Tag{tag.New(1, tag.KV("x", tag.Bool(true)))}}
	b := pdu.Bytes{Data: []byte{3, 4, 5}, Tags: []tag.Tag{tag.New(0, tag.KV("y", tag.Int64(7)))}}

	out, err := Concat(a, pdu.Bytes{}, b)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, out.Data)
	require.Len(t, out.Tags, 2)
	assert.Equal(t, uint64(1), out.Tags[0].Offset)
	assert.Equal(t, uint64(2), out.Tags[1].Offset)
	assert.NoError(t, out.Validate())

	_, err = Concat[byte]()
	assert.True(t, errors.Is(err, errspkg.ErrEmptyPdu))
}
