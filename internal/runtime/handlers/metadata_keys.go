package handlers

import "github.com/drblury/pktflow/transport"

// Metadata keys stamped on packet messages. They are reserved.
const (
	// MetadataKeyCorrelationID tracks related messages across services.
	MetadataKeyCorrelationID = "correlation_id"

	// MetadataKeyPacketLen is the item count of the carried packet.
	MetadataKeyPacketLen = "pktflow_packet_len"

	// MetadataKeyStreamID names the logical stream the packet belongs to.
	MetadataKeyStreamID = transport.StreamIDMetadataKey

	// MetadataKeyCodec names the payload encoding.
	MetadataKeyCodec = "pktflow_codec"

	// MetadataKeyEnqueuedAt records when a packet was published (RFC 3339).
	MetadataKeyEnqueuedAt = "pktflow_enqueued_at"

	// MetadataKeyTraceID stores distributed tracing ID.
	MetadataKeyTraceID = "trace_id"

	// MetadataKeySpanID stores distributed tracing span ID.
	MetadataKeySpanID = "span_id"
)
