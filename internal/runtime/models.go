package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/pktflow/internal/runtime/handlers"
	"github.com/drblury/pktflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// UndecodablePacketError is returned by packet handlers for payloads that do
// not decode. The default poison queue filter matches it.
type UndecodablePacketError = handlerpkg.UndecodablePacketError

// HandlerInfo describes a registered packet handler.
type HandlerInfo struct {
	Name         string        `json:"name"`
	ConsumeQueue string        `json:"consume_queue"`
	PublishQueue string        `json:"publish_queue"`
	Stats        *HandlerStats `json:"stats"`
}

// HandlerStats accumulates per-handler packet counters. It is safe for
// concurrent use and marshals to JSON under its own lock.
type HandlerStats struct {
	mu sync.Mutex

	PacketsProcessed    uint64    `json:"packets_processed"`
	PacketsFailed       uint64    `json:"packets_failed"`
	PacketsEmitted      uint64    `json:"packets_emitted"`
	BytesProcessed      uint64    `json:"bytes_processed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`
	Backlog    BacklogMetrics    `json:"backlog"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resourceSampler  *resourceTracker
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentPPS      float64 `json:"current_pps"`
	WindowSeconds   float64 `json:"window_seconds"`
	PacketsInWindow uint64  `json:"packets_in_window"`
}

type ErrorBreakdown struct {
	Decode     uint64 `json:"decode"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// BacklogMetrics tracks in-flight packets and the publish-to-handle lag
// derived from the pktflow_enqueued_at header. Lag is -1 until known.
type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryDecode     ErrorCategory = "decode"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier buckets handler errors for HandlerStats.
type ErrorClassifier func(error) ErrorCategory

func newHandlerStats(sampler *resourceTracker) *HandlerStats {
	return &HandlerStats{
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		Backlog:          BacklogMetrics{EstimatedLagMillis: -1},
	}
}

func (h *HandlerStats) onPacketStart(msg *message.Message) int64 {
	lag := parseLagMetadata(msg.Metadata.Get(handlerpkg.MetadataKeyEnqueuedAt), time.Now())

	h.mu.Lock()
	defer h.mu.Unlock()

	h.Backlog.InFlight++
	h.Backlog.MaxInFlight = max(h.Backlog.MaxInFlight, h.Backlog.InFlight)
	return lag
}

func (h *HandlerStats) onPacketFinish(lag int64, size int, emitted int, duration time.Duration, err error, classifier ErrorClassifier) {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Backlog.InFlight > 0 {
		h.Backlog.InFlight--
	}
	if lag >= 0 {
		h.Backlog.EstimatedLagMillis = lag
	}

	h.PacketsProcessed++
	h.BytesProcessed += uint64(size)
	if err != nil {
		h.PacketsFailed++
	} else {
		h.PacketsEmitted += uint64(emitted)
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = now.UTC()

	h.latencyWindow.Add(duration)
	h.Latency = h.latencyWindow.Snapshot()
	h.Latency.AverageNs = h.TotalProcessingTime / int64(h.PacketsProcessed)

	tp := h.throughputWindow.AddAndSnapshot(now)
	h.Throughput = ThroughputMetrics{
		CurrentPPS:      tp.CurrentPPS,
		WindowSeconds:   tp.WindowSeconds,
		PacketsInWindow: uint64(tp.Count),
	}

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.Record(classifier(err), err)

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}
}

func parseLagMetadata(raw string, now time.Time) int64 {
	if raw == "" {
		return -1
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return -1
	}
	return max(now.Sub(ts).Milliseconds(), 0)
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type alias struct {
		PacketsProcessed    uint64            `json:"packets_processed"`
		PacketsFailed       uint64            `json:"packets_failed"`
		PacketsEmitted      uint64            `json:"packets_emitted"`
		BytesProcessed      uint64            `json:"bytes_processed"`
		TotalProcessingTime int64             `json:"total_processing_time_ns"`
		LastProcessedAt     time.Time         `json:"last_processed_at"`
		Latency             LatencyMetrics    `json:"latency"`
		Throughput          ThroughputMetrics `json:"throughput"`
		Errors              ErrorBreakdown    `json:"errors"`
		Resource            ResourceUsage     `json:"resource"`
		Backlog             BacklogMetrics    `json:"backlog"`
	}
	return jsoncodec.Marshal(alias{
		PacketsProcessed:    h.PacketsProcessed,
		PacketsFailed:       h.PacketsFailed,
		PacketsEmitted:      h.PacketsEmitted,
		BytesProcessed:      h.BytesProcessed,
		TotalProcessingTime: h.TotalProcessingTime,
		LastProcessedAt:     h.LastProcessedAt,
		Latency:             h.Latency,
		Throughput:          h.Throughput,
		Errors:              h.Errors,
		Resource:            h.Resource,
		Backlog:             h.Backlog,
	})
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	if err == nil {
		return
	}
	switch category {
	case ErrorCategoryDecode:
		e.Decode++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var undecodable *UndecodablePacketError
	switch {
	case errors.As(err, &undecodable), errors.Is(err, errspkg.ErrMalformedPayload):
		return ErrorCategoryDecode
	case errors.Is(err, errspkg.ErrPacketTooLarge), errors.Is(err, errspkg.ErrShortWrite):
		return ErrorCategoryTransport
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryDownstream
	default:
		return ErrorCategoryOther
	}
}
