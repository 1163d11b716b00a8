package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	metadatapkg "github.com/drblury/pktflow/internal/runtime/metadata"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

func samplePacket() pdu.Bytes {
	return pdu.Bytes{
		Data: []byte{0x45, 0x00, 0x00, 0x1c},
		Tags: []tag.Tag{tag.New(0, tag.KV("snr_db", tag.Float64(12.5)))},
	}
}

func TestPacketMessageRoundTrip(t *testing.T) {
	for _, codec := range []PacketCodec{BinaryCodec(), JSONCodec()} {
		t.Run(codec.Name(), func(t *testing.T) {
			msg, err := NewPacketMessage(samplePacket(), metadatapkg.New(MetadataKeyStreamID, "rx0"), codec)
			require.NoError(t, err)

			assert.NotEmpty(t, msg.UUID)
			assert.Equal(t, "4", msg.Metadata.Get(MetadataKeyPacketLen))
			assert.Equal(t, codec.Name(), msg.Metadata.Get(MetadataKeyCodec))
			assert.Equal(t, "rx0", msg.Metadata.Get(MetadataKeyStreamID))
			assert.NotEmpty(t, msg.Metadata.Get(MetadataKeyEnqueuedAt))

			got, err := DecodePacketMessage(msg)
			require.NoError(t, err)
			assert.True(t, pdu.Equal(samplePacket(), got, func(a, b byte) bool { return a == b }))
		})
	}
}

func TestNewPacketMessageRejectsEmptyAndInvalid(t *testing.T) {
	_, err := NewPacketMessage(pdu.Bytes{}, nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrEmptyPdu)

	bad := pdu.Bytes{Data: []byte{1}, Tags: []tag.Tag{tag.New(5, tag.KV("x", tag.Bool(true)))}}
	_, err = NewPacketMessage(bad, nil, nil)
	assert.Error(t, err)
}

func TestDecodePacketMessageFailures(t *testing.T) {
	good, err := NewPacketMessage(samplePacket(), nil, nil)
	require.NoError(t, err)

	cases := map[string]*message.Message{
		"garbage payload": func() *message.Message {
			m := message.NewMessage("m1", []byte{0xff, 0xff, 0xff})
			return m
		}(),
		"unknown codec": func() *message.Message {
			m := good.Copy()
			m.Metadata.Set(MetadataKeyCodec, "cbor")
			return m
		}(),
		"length mismatch": func() *message.Message {
			m := good.Copy()
			m.Metadata.Set(MetadataKeyPacketLen, "9")
			return m
		}(),
		"empty payload": message.NewMessage("m2", nil),
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePacketMessage(msg)
			require.Error(t, err)
			var undecodable *UndecodablePacketError
			require.True(t, errors.As(err, &undecodable))
			assert.Equal(t, msg.UUID, undecodable.MessageUUID)
		})
	}
}

func TestCodecFor(t *testing.T) {
	c, err := CodecFor("")
	require.NoError(t, err)
	assert.Equal(t, BinaryCodec().Name(), c.Name())

	c, err = CodecFor(CodecJSON)
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c.Name())

	_, err = CodecFor("xml")
	assert.ErrorIs(t, err, errspkg.ErrMalformedPayload)
}

func TestBuildPacketHandler(t *testing.T) {
	handler, err := BuildPacketHandler(func(ctx context.Context, in PacketContext) ([]PacketOutput, error) {
		require.NotNil(t, ctx)
		assert.Equal(t, "corr-1", in.CorrelationID())
		assert.Equal(t, 4, in.PacketLen())

		reversed := make([]byte, len(in.Pdu.Data))
		for i, b := range in.Pdu.Data {
			reversed[len(reversed)-1-i] = b
		}
		md := in.CloneMetadata()
		md["stage"] = "reverse"
		return []PacketOutput{
			{Pdu: pdu.Bytes{Data: reversed}, Metadata: md},
			{Pdu: pdu.Bytes{Data: in.Pdu.Data[:2]}},
		}, nil
	}, JSONCodec(), nil)
	require.NoError(t, err)

	msg, err := NewPacketMessage(samplePacket(), metadatapkg.New(MetadataKeyCorrelationID, "corr-1"), nil)
	require.NoError(t, err)

	out, err := handler(msg)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "reverse", out[0].Metadata.Get("stage"))
	assert.Equal(t, CodecJSON, out[0].Metadata.Get(MetadataKeyCodec))
	first, err := DecodePacketMessage(out[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1c, 0x00, 0x00, 0x45}, first.Data)

	assert.Equal(t, "corr-1", out[1].Metadata.Get(MetadataKeyCorrelationID), "nil metadata inherits the incoming headers")
	assert.Equal(t, "2", out[1].Metadata.Get(MetadataKeyPacketLen))
	assert.NotEqual(t, msg.UUID, out[1].UUID)
}

func TestBuildPacketHandlerErrors(t *testing.T) {
	_, err := BuildPacketHandler(nil, nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	boom := errors.New("boom")
	handler, err := BuildPacketHandler(func(context.Context, PacketContext) ([]PacketOutput, error) {
		return nil, boom
	}, nil, nil)
	require.NoError(t, err)

	msg, err := NewPacketMessage(samplePacket(), nil, nil)
	require.NoError(t, err)
	_, err = handler(msg)
	assert.ErrorIs(t, err, boom)

	_, err = handler(message.NewMessage("bad", []byte{0xff}))
	var undecodable *UndecodablePacketError
	assert.ErrorAs(t, err, &undecodable)

	empty, err := BuildPacketHandler(func(context.Context, PacketContext) ([]PacketOutput, error) {
		return []PacketOutput{{}}, nil
	}, nil, nil)
	require.NoError(t, err)
	_, err = empty(msg)
	assert.Error(t, err)
}
