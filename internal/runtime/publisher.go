package runtime

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/pktflow/internal/runtime/handlers"
	metadatapkg "github.com/drblury/pktflow/internal/runtime/metadata"
	"github.com/drblury/pktflow/internal/runtime/pdu"
)

// Producer emits packets onto the configured transport.
type Producer interface {
	PublishPdu(ctx context.Context, topic string, p pdu.Bytes, metadata metadatapkg.Metadata) error
}

// PublishPdu encodes p with the binary codec and publishes it to topic.
func PublishPdu(ctx context.Context, publisher message.Publisher, topic string, p pdu.Bytes, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := handlerpkg.NewPacketMessage(p, metadata, nil)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// PublishPdu publishes through the Service transport, honouring its maximum
// message size.
func (s *Service) PublishPdu(ctx context.Context, topic string, p pdu.Bytes, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("packet service is nil")
	}
	sink, err := s.PacketSink(topic, TransportOptions{Metadata: metadata})
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return sink.Deliver(ctx, p)
}

// PacketSink returns a boundary sink over the Service publisher. Unset
// options inherit the Service logger, recorder and transport limits.
func (s *Service) PacketSink(topic string, opts TransportOptions) (*TransportSink, error) {
	return NewTransportSink(s.publisher, topic, s.transportOptions(opts))
}

// PacketSource returns a boundary source over the Service subscriber.
func (s *Service) PacketSource(topic string, opts TransportOptions) (*TransportSource, error) {
	return NewTransportSource(s.subscriber, topic, s.transportOptions(opts))
}

func (s *Service) transportOptions(opts TransportOptions) TransportOptions {
	if opts.Logger == nil {
		opts.Logger = s.Logger
	}
	if opts.Recorder == nil {
		opts.Recorder = s.recorder
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = s.capabilities.MaxMessageSize
	}
	return opts
}
