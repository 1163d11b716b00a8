package handlers

import (
	"strconv"

	loggingpkg "github.com/drblury/pktflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/pktflow/internal/runtime/metadata"
)

// MessageContextBase holds the metadata and logger shared by packet handlers.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers for outgoing packets without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[MetadataKeyCorrelationID]
}

// StreamID returns the stream the packet was published on, if present.
func (b MessageContextBase) StreamID() string {
	return b.Metadata[MetadataKeyStreamID]
}

// PacketLen returns the declared packet length, or -1 when it is missing or invalid.
func (b MessageContextBase) PacketLen() int {
	raw, ok := b.Metadata[MetadataKeyPacketLen]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
