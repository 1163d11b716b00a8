package runtime

import (
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/pktflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/pktflow/internal/runtime/logging"
)

type handlerRegistration struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      message.HandlerFunc
	Subscriber   message.Subscriber
	Publisher    message.Publisher
}

// MessageHandlerRegistration wires a raw Watermill handler without packet decoding.
type MessageHandlerRegistration struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      message.HandlerFunc
	Subscriber   message.Subscriber
	Publisher    message.Publisher
}

// RegisterMessageHandler attaches the provided handler to the service router.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration(cfg))
}

// RegisterPacketHandler decodes each consumed message into a packet, calls
// the handler, and publishes the returned packets to PublishQueue.
func RegisterPacketHandler(svc *Service, cfg handlerpkg.PacketHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildPacketHandler(cfg.Handler, cfg.Codec, svc.Logger.With(loggingpkg.LogFields{"handler": cfg.Name}))
	if err != nil {
		return err
	}

	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Handler:      wrapped,
	})
}

func (s *Service) registerHandler(cfg handlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errspkg.ErrConsumeQueueRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}
	if cfg.Publisher == nil {
		cfg.Publisher = s.publisher
	}

	stats := newHandlerStats(s.getResourceTracker())
	info := &HandlerInfo{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Stats:        stats,
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	handler := wrapHandlerWithStats(cfg.Handler, stats, s.getErrorClassifier())

	if cfg.PublishQueue == "" {
		s.router.AddNoPublisherHandler(cfg.Name, cfg.ConsumeQueue, cfg.Subscriber, func(msg *message.Message) error {
			_, err := handler(msg)
			return err
		})
		return nil
	}

	s.router.AddHandler(
		cfg.Name,
		cfg.ConsumeQueue,
		cfg.Subscriber,
		cfg.PublishQueue,
		cfg.Publisher,
		handler,
	)
	return nil
}

func wrapHandlerWithStats(handler message.HandlerFunc, stats *HandlerStats, classifier ErrorClassifier) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		lag := stats.onPacketStart(msg)
		start := time.Now()
		msgs, err := handler(msg)
		stats.onPacketFinish(lag, packetSize(msg), len(msgs), time.Since(start), err, classifier)
		return msgs, err
	}
}

func packetSize(msg *message.Message) int {
	if n, err := strconv.Atoi(msg.Metadata.Get(handlerpkg.MetadataKeyPacketLen)); err == nil && n >= 0 {
		return n
	}
	return len(msg.Payload)
}
