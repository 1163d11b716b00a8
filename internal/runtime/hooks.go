package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	handlerpkg "github.com/drblury/pktflow/internal/runtime/handlers"
	idspkg "github.com/drblury/pktflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/pktflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/pktflow/internal/runtime/metadata"
	metricspkg "github.com/drblury/pktflow/internal/runtime/metrics"
)

// HookContext describes one packet message passing through a handler.
type HookContext struct {
	// HandlerName is the router handler processing the message.
	HandlerName string
	// Topic is the topic the message was consumed from.
	Topic       string
	MessageUUID string
	// StreamID is the stream the packet was published on, if any.
	StreamID string
	// PacketLen is the Pdu length in bytes, or -1 when the header is missing.
	PacketLen int
	// PublishedAt is decoded from the message id; zero when the id is not a
	// packet message id.
	PublishedAt time.Time
	Metadata    message.Metadata
	Context     context.Context
	StartedAt   time.Time
	// Duration is only set in OnPacketDone and OnPacketError.
	Duration time.Duration
	// Emitted is the number of produced messages. Only set in OnPacketDone.
	Emitted int
}

// PacketHooks are optional callbacks around handler execution. Nil hooks are skipped.
type PacketHooks struct {
	OnPacketStart func(ctx HookContext)
	OnPacketDone  func(ctx HookContext)
	OnPacketError func(ctx HookContext, err error)
}

// Merge returns hooks that call h first and then other.
func (h PacketHooks) Merge(other PacketHooks) PacketHooks {
	return PacketHooks{
		OnPacketStart: chainHooks(h.OnPacketStart, other.OnPacketStart),
		OnPacketDone:  chainHooks(h.OnPacketDone, other.OnPacketDone),
		OnPacketError: chainErrorHooks(h.OnPacketError, other.OnPacketError),
	}
}

func chainHooks(a, b func(HookContext)) func(HookContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HookContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(HookContext, error)) func(HookContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HookContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// PacketHooksMiddleware registers hooks as a router middleware.
func PacketHooksMiddleware(hooks PacketHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "packet_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return packetHooksMiddleware(hooks), nil
		},
	}
}

func packetHooksMiddleware(hooks PacketHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := msg.Context()
			base := handlerpkg.MessageContextBase{Metadata: metadatapkg.FromWatermill(msg.Metadata)}
			hc := HookContext{
				HandlerName: message.HandlerNameFromCtx(ctx),
				Topic:       message.SubscribeTopicFromCtx(ctx),
				MessageUUID: msg.UUID,
				StreamID:    base.StreamID(),
				PacketLen:   base.PacketLen(),
				Metadata:    msg.Metadata,
				Context:     ctx,
				StartedAt:   time.Now(),
			}
			if at, err := idspkg.MessageTime(msg.UUID); err == nil {
				hc.PublishedAt = at
			}

			if hooks.OnPacketStart != nil {
				hooks.OnPacketStart(hc)
			}

			msgs, err := h(msg)
			hc.Duration = time.Since(hc.StartedAt)

			if err != nil {
				if hooks.OnPacketError != nil {
					hooks.OnPacketError(hc, err)
				}
				return msgs, err
			}
			hc.Emitted = len(msgs)
			if hooks.OnPacketDone != nil {
				hooks.OnPacketDone(hc)
			}
			return msgs, nil
		}
	}
}

func hookFields(ctx HookContext) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"handler":      ctx.HandlerName,
		"topic":        ctx.Topic,
		"message_uuid": ctx.MessageUUID,
		"stream_id":    ctx.StreamID,
		"packet_len":   ctx.PacketLen,
	}
	if !ctx.PublishedAt.IsZero() && !ctx.StartedAt.IsZero() {
		fields["queued_ms"] = ctx.StartedAt.Sub(ctx.PublishedAt).Milliseconds()
	}
	return fields
}

// LoggingHooks logs starts at debug level and completions and failures at info and error.
func LoggingHooks(logger loggingpkg.ServiceLogger) PacketHooks {
	logger = loggingpkg.OrNop(logger)
	return PacketHooks{
		OnPacketStart: func(ctx HookContext) {
			logger.Debug("Packet handling started", hookFields(ctx))
		},
		OnPacketDone: func(ctx HookContext) {
			logger.Info("Packet handled", loggingpkg.Merge(hookFields(ctx), loggingpkg.LogFields{
				"duration_ms": ctx.Duration.Milliseconds(),
				"emitted":     ctx.Emitted,
			}))
		},
		OnPacketError: func(ctx HookContext, err error) {
			logger.Error("Packet handling failed", err, loggingpkg.Merge(hookFields(ctx), loggingpkg.LogFields{
				"duration_ms": ctx.Duration.Milliseconds(),
			}))
		},
	}
}

// MetricsHooks feeds handler outcomes into rec. Consumed packets count as
// received on their stream; failures count as drops at the handler.
func MetricsHooks(rec metricspkg.Recorder) PacketHooks {
	rec = metricspkg.OrNop(rec)
	return PacketHooks{
		OnPacketDone: func(ctx HookContext) {
			if ctx.PacketLen > 0 {
				rec.Pdu(ctx.StreamID, metricspkg.DirectionReceived, ctx.PacketLen)
			}
		},
		OnPacketError: func(ctx HookContext, err error) {
			rec.Dropped(ctx.HandlerName, string(defaultErrorClassifier(err)))
		},
	}
}

// AlertingHooks calls alert for every handler failure.
func AlertingHooks(alert func(ctx HookContext, err error)) PacketHooks {
	return PacketHooks{OnPacketError: alert}
}
