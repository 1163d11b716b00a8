package pktflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPacketHandlerRequiresService(t *testing.T) {
	err := RegisterPacketHandler(nil, PacketHandlerRegistration{Name: "h"})
	assert.ErrorIs(t, err, ErrServiceRequired)
}

func TestPduRoundTripThroughMap(t *testing.T) {
	p, err := NewPdu([]byte{1, 2, 3, 4}, NewTag(2, KV("mark", Bool(true))))
	require.NoError(t, err)

	d := NewDisassembler[byte](DisassemblerConfig{StreamID: "facade"})
	items, err := d.Emit(p)
	require.NoError(t, err)

	m, err := NewMap(func(b byte) byte { return b * 2 }, Pass())
	require.NoError(t, err)

	a, err := NewAssembler[byte](AssemblerConfig{StreamID: "facade"})
	require.NoError(t, err)

	got := a.PushAll(m.Process(items))
	require.Len(t, got, 1)
	assert.Equal(t, []byte{2, 4, 6, 8}, got[0].Data)
	require.Len(t, got[0].TagsAt(2), 1)
	v, ok := got[0].TagsAt(2)[0].Attrs.Get("mark")
	require.True(t, ok)
	mark, isBool := v.BoolValue()
	assert.True(t, isBool)
	assert.True(t, mark)
}

func TestBlockPolicyDropsBoundary(t *testing.T) {
	p, err := NewPdu([]byte{1, 2})
	require.NoError(t, err)
	items, err := NewDisassembler[byte](DisassemblerConfig{}).Emit(p)
	require.NoError(t, err)

	m, err := NewMap(func(b byte) byte { return b }, Block())
	require.NoError(t, err)
	a, err := NewAssembler[byte](AssemblerConfig{})
	require.NoError(t, err)

	assert.Empty(t, a.PushAll(m.Process(items)))
	assert.EqualValues(t, 2, a.Stats().OrphanItems)
}

func TestMuxJoinsDisassembledPackets(t *testing.T) {
	head, err := NewPdu([]byte{0xAA, 0xBB})
	require.NoError(t, err)
	body, err := NewPdu([]byte{1, 2, 3}, NewTag(0, KV("seq", Uint64(9))))
	require.NoError(t, err)

	a, err := NewDisassembler[byte](DisassemblerConfig{}).Emit(head)
	require.NoError(t, err)
	b, err := NewDisassembler[byte](DisassemblerConfig{}).Emit(body)
	require.NoError(t, err)

	mux, err := NewMux[byte](2, "")
	require.NoError(t, err)
	items, err := mux.Process(a, b)
	require.NoError(t, err)

	asm, err := NewAssembler[byte](AssemblerConfig{})
	require.NoError(t, err)
	pkts := asm.PushAll(items)
	require.Len(t, pkts, 1)

	want, err := ConcatPdus(head, body)
	require.NoError(t, err)
	assert.Equal(t, want.Data, pkts[0].Data)
	require.Len(t, pkts[0].Tags, 1)
	assert.Equal(t, uint64(2), pkts[0].Tags[0].Offset)
	assert.Equal(t, want.Tags, pkts[0].Tags)
}

func TestRescaleRejectsBadRatio(t *testing.T) {
	_, err := NewRescale(RescaleConfig{Key: DefaultBoundaryKey, Ratio: 0})
	assert.ErrorIs(t, err, ErrInvalidRatio)
}

func TestServiceForwardsPacketsOverChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := TryNewService(&Config{PubSubSystem: "channel"}, NopLogger(), ctx, ServiceDependencies{})
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	src, err := svc.PacketSource("facade.rx", TransportOptions{})
	require.NoError(t, err)
	require.NoError(t, src.Start(ctx))
	defer func() { _ = src.Stop() }()

	sink, err := svc.PacketSink("facade.rx", TransportOptions{StreamID: "facade"})
	require.NoError(t, err)

	want, err := NewPdu([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, sink.Deliver(ctx, want))

	var got Bytes
	require.Eventually(t, func() bool {
		p, ok := src.Poll(ctx)
		if ok {
			got = p
		}
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, want.Data, got.Data)
}

func TestTransportRegistryIsExported(t *testing.T) {
	reg := NewTransportRegistry()
	assert.Empty(t, reg.Names())
	assert.NotEmpty(t, NewStreamID())
	assert.Len(t, NewMessageID(), 26)
}
