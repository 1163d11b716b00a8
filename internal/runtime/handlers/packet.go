package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	idspkg "github.com/drblury/pktflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/pktflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/pktflow/internal/runtime/metadata"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/wire"
)

// CodecJSON names the JSON payload encoding.
const CodecJSON = "json"

// PacketCodec encodes one byte packet as one message payload.
type PacketCodec interface {
	Name() string
	Marshal(p pdu.Bytes) ([]byte, error)
	Unmarshal(b []byte) (pdu.Bytes, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                          { return CodecJSON }
func (jsonCodec) Marshal(p pdu.Bytes) ([]byte, error)   { return wire.MarshalJSON(p) }
func (jsonCodec) Unmarshal(b []byte) (pdu.Bytes, error) { return wire.UnmarshalJSON[byte](b) }

var binaryCodec PacketCodec = wire.ByteCodec()

// BinaryCodec returns the default protobuf-wire codec.
func BinaryCodec() PacketCodec { return binaryCodec }

// JSONCodec returns the JSON codec. Payloads are readable on the wire at the
// cost of base64 item data.
func JSONCodec() PacketCodec { return jsonCodec{} }

// CodecFor resolves a codec by the name stored under MetadataKeyCodec. An
// empty name selects the binary codec.
func CodecFor(name string) (PacketCodec, error) {
	switch name {
	case "", binaryCodec.Name():
		return binaryCodec, nil
	case CodecJSON:
		return jsonCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", errspkg.ErrMalformedPayload, name)
	}
}

// UndecodablePacketError wraps a message whose payload is not a valid packet.
// The poison queue middleware routes these aside.
type UndecodablePacketError struct {
	MessageUUID string
	Codec       string
	Err         error
}

func (e *UndecodablePacketError) Error() string {
	return fmt.Sprintf("undecodable packet message %s (codec %q): %v", e.MessageUUID, e.Codec, e.Err)
}

func (e *UndecodablePacketError) Unwrap() error { return e.Err }

// NewPacketMessage encodes p as a message payload and stamps the packet
// metadata. Empty packets are rejected.
func NewPacketMessage(p pdu.Bytes, metadata metadatapkg.Metadata, codec PacketCodec) (*message.Message, error) {
	if len(p.Data) == 0 {
		return nil, errspkg.ErrEmptyPdu
	}
	if codec == nil {
		codec = binaryCodec
	}
	payload, err := codec.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal packet payload: %w", err)
	}

	md := metadata.Clone()
	md[MetadataKeyPacketLen] = strconv.Itoa(len(p.Data))
	md[MetadataKeyCodec] = codec.Name()
	if _, ok := md[MetadataKeyEnqueuedAt]; !ok {
		md[MetadataKeyEnqueuedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	msg := message.NewMessage(idspkg.NewMessageID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg, nil
}

// DecodePacketMessage decodes a message produced by NewPacketMessage. Every
// failure is an *UndecodablePacketError.
func DecodePacketMessage(msg *message.Message) (pdu.Bytes, error) {
	name := msg.Metadata.Get(MetadataKeyCodec)
	fail := func(err error) (pdu.Bytes, error) {
		return pdu.Bytes{}, &UndecodablePacketError{MessageUUID: msg.UUID, Codec: name, Err: err}
	}

	codec, err := CodecFor(name)
	if err != nil {
		return fail(err)
	}
	p, err := codec.Unmarshal(msg.Payload)
	if err != nil {
		return fail(err)
	}
	if len(p.Data) == 0 {
		return fail(errspkg.ErrEmptyPdu)
	}
	if raw := msg.Metadata.Get(MetadataKeyPacketLen); raw != "" {
		declared, err := strconv.Atoi(raw)
		if err != nil || declared != len(p.Data) {
			return fail(fmt.Errorf("%w: %s=%q, payload holds %d items", errspkg.ErrMalformedPayload, MetadataKeyPacketLen, raw, len(p.Data)))
		}
	}
	return p, nil
}

// PacketContext exposes the decoded packet and its metadata to a handler.
type PacketContext struct {
	MessageContextBase
	MessageUUID string
	Pdu         pdu.Bytes
}

// PacketOutput is a packet emitted by a handler. Nil Metadata inherits the
// incoming metadata.
type PacketOutput struct {
	Pdu      pdu.Bytes
	Metadata metadatapkg.Metadata
}

// PacketHandler processes one packet and returns the packets to publish.
type PacketHandler func(ctx context.Context, in PacketContext) ([]PacketOutput, error)

// PacketHandlerRegistration wires a PacketHandler to the router.
type PacketHandlerRegistration struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      PacketHandler
	// Codec encodes outgoing packets. Defaults to BinaryCodec.
	Codec PacketCodec
}

// BuildPacketHandler converts a PacketHandler into a Watermill handler.
func BuildPacketHandler(handler PacketHandler, codec PacketCodec, logger loggingpkg.ServiceLogger) (message.HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if codec == nil {
		codec = binaryCodec
	}
	logger = loggingpkg.OrNop(logger)

	return func(msg *message.Message) ([]*message.Message, error) {
		p, err := DecodePacketMessage(msg)
		if err != nil {
			return nil, err
		}

		in := PacketContext{
			MessageContextBase: MessageContextBase{
				Metadata: metadatapkg.FromWatermill(msg.Metadata),
				Logger:   logger,
			},
			MessageUUID: msg.UUID,
			Pdu:         p,
		}

		outgoing, err := handler(msg.Context(), in)
		if err != nil {
			return nil, err
		}
		return convertPacketOutputs(outgoing, in.Metadata, codec)
	}, nil
}

func convertPacketOutputs(outputs []PacketOutput, fallback metadatapkg.Metadata, codec PacketCodec) ([]*message.Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]*message.Message, len(outputs))
	for i, out := range outputs {
		if len(out.Pdu.Data) == 0 {
			return nil, errors.New("packet handler emitted an empty packet")
		}
		md := out.Metadata
		if md == nil {
			md = fallback
		}
		// Stale per-message keys must not leak into the outgoing message.
		md = md.Without(MetadataKeyPacketLen, MetadataKeyCodec, MetadataKeyEnqueuedAt)

		msg, err := NewPacketMessage(out.Pdu, md, codec)
		if err != nil {
			return nil, err
		}
		result[i] = msg
	}
	return result, nil
}
