package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/pktflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/pktflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/pktflow/internal/runtime/metadata"
	metricspkg "github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/pdu"
)

const (
	tracerName         = "github.com/drblury/pktflow"
	defaultPollTimeout = 100 * time.Millisecond
)

// TransportOptions configures a TransportSink or TransportSource.
type TransportOptions struct {
	// StreamID is stamped on published messages and labels metrics.
	StreamID string
	// Codec encodes published packets. Sources decode by the codec header.
	Codec handlerpkg.PacketCodec
	// MaxMessageSize rejects larger payloads. Zero means unlimited.
	MaxMessageSize int64
	// Metadata is copied onto every published message.
	Metadata metadatapkg.Metadata
	// PollTimeout bounds how long Poll waits for a message. Defaults to 100ms.
	PollTimeout time.Duration
	Logger      loggingpkg.ServiceLogger
	Recorder    metricspkg.Recorder
}

// TransportSink publishes one message per packet. Packets are never fragmented.
type TransportSink struct {
	publisher message.Publisher
	topic     string
	opts      TransportOptions
	log       loggingpkg.ServiceLogger
	rec       metricspkg.Recorder
	tracer    trace.Tracer
}

// NewTransportSink builds a sink publishing to topic.
func NewTransportSink(publisher message.Publisher, topic string, opts TransportOptions) (*TransportSink, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if opts.Codec == nil {
		opts.Codec = handlerpkg.BinaryCodec()
	}
	if opts.MaxMessageSize < 0 {
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("transport: max message size %d cannot be negative", opts.MaxMessageSize))
	}
	return &TransportSink{
		publisher: publisher,
		topic:     topic,
		opts:      opts,
		log:       loggingpkg.OrNop(opts.Logger).With(loggingpkg.LogFields{"topic": topic, "stream_id": opts.StreamID}),
		rec:       metricspkg.OrNop(opts.Recorder),
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Deliver encodes and publishes p. Oversized packets fail with
// ErrPacketTooLarge; publish failures are counted and returned.
func (s *TransportSink) Deliver(ctx context.Context, p pdu.Bytes) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "PublishPacket", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", s.topic),
		attribute.String("pktflow.stream_id", s.opts.StreamID),
		attribute.Int("pktflow.packet_len", len(p.Data)),
	)

	md := s.opts.Metadata
	if s.opts.StreamID != "" {
		md = md.With(handlerpkg.MetadataKeyStreamID, s.opts.StreamID)
	}
	msg, err := handlerpkg.NewPacketMessage(p, md, s.opts.Codec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return err
	}
	if limit := s.opts.MaxMessageSize; limit > 0 && int64(len(msg.Payload)) > limit {
		s.rec.Dropped(s.topic, "too_large")
		err := fmt.Errorf("%w: %d byte payload, transport limit %d", errspkg.ErrPacketTooLarge, len(msg.Payload), limit)
		span.RecordError(err)
		span.SetStatus(codes.Error, "too large")
		return err
	}
	if sc := span.SpanContext(); sc.IsValid() {
		msg.Metadata.Set(handlerpkg.MetadataKeyTraceID, sc.TraceID().String())
		msg.Metadata.Set(handlerpkg.MetadataKeySpanID, sc.SpanID().String())
	}
	span.SetAttributes(attribute.String("messaging.message.id", msg.UUID))
	msg.SetContext(ctx)

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		s.rec.IOFailure(s.topic)
		s.log.Error("Packet publish failed", err, loggingpkg.LogFields{"message_uuid": msg.UUID, "length": len(p.Data)})
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish")
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	s.rec.Pdu(s.opts.StreamID, metricspkg.DirectionDelivered, len(p.Data))
	return nil
}

// TransportSource subscribes to a topic between Start and Stop and yields one
// packet per decodable message. Undecodable messages are acked, counted and
// skipped.
type TransportSource struct {
	subscriber message.Subscriber
	topic      string
	opts       TransportOptions
	log        loggingpkg.ServiceLogger
	rec        metricspkg.Recorder

	mu       sync.Mutex
	messages <-chan *message.Message
	cancel   context.CancelFunc
	closed   atomic.Bool

	received, undecodable atomic.Uint64
}

// NewTransportSource builds a source reading topic.
func NewTransportSource(subscriber message.Subscriber, topic string, opts TransportOptions) (*TransportSource, error) {
	if subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	return &TransportSource{
		subscriber: subscriber,
		topic:      topic,
		opts:       opts,
		log:        loggingpkg.OrNop(opts.Logger).With(loggingpkg.LogFields{"topic": topic}),
		rec:        metricspkg.OrNop(opts.Recorder),
	}, nil
}

// Start subscribes. Starting a started source is a no-op.
func (s *TransportSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages != nil {
		return nil
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messages, err := s.subscriber.Subscribe(subCtx, s.topic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}
	s.messages, s.cancel = messages, cancel
	s.closed.Store(false)
	s.log.Info("Transport source subscribed", nil)
	return nil
}

// Stop cancels the subscription.
func (s *TransportSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel, s.messages = nil, nil
	s.log.Info("Transport source stopped", loggingpkg.LogFields{
		"received":    s.received.Load(),
		"undecodable": s.undecodable.Load(),
	})
	return nil
}

// Poll waits up to PollTimeout for the next decodable packet.
func (s *TransportSource) Poll(ctx context.Context) (pdu.Bytes, bool) {
	s.mu.Lock()
	messages := s.messages
	s.mu.Unlock()
	if messages == nil {
		return pdu.Bytes{}, false
	}

	timer := time.NewTimer(s.opts.PollTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return pdu.Bytes{}, false
		case <-timer.C:
			return pdu.Bytes{}, false
		case msg, ok := <-messages:
			if !ok {
				s.closed.Store(true)
				return pdu.Bytes{}, false
			}
			p, err := handlerpkg.DecodePacketMessage(msg)
			msg.Ack()
			if err != nil {
				s.undecodable.Add(1)
				s.rec.Dropped(s.topic, "undecodable")
				s.log.Error("Undecodable packet message", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
				continue
			}
			s.received.Add(1)
			stream := msg.Metadata.Get(handlerpkg.MetadataKeyStreamID)
			if stream == "" {
				stream = s.opts.StreamID
			}
			s.rec.Pdu(stream, metricspkg.DirectionReceived, len(p.Data))
			return p, true
		}
	}
}

// Exhausted reports whether the subscription channel was closed.
func (s *TransportSource) Exhausted() bool { return s.closed.Load() }
