package pktflow

import (
	"context"

	runtimepkg "github.com/drblury/pktflow/internal/runtime"
	"github.com/drblury/pktflow/internal/runtime/archive"
	"github.com/drblury/pktflow/internal/runtime/boundary"
	"github.com/drblury/pktflow/internal/runtime/capture"
	configpkg "github.com/drblury/pktflow/internal/runtime/config"
	"github.com/drblury/pktflow/internal/runtime/device"
	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/pktflow/internal/runtime/handlers"
	idspkg "github.com/drblury/pktflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/pktflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/pktflow/internal/runtime/metadata"
	metricspkg "github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/policy"
	"github.com/drblury/pktflow/internal/runtime/stage"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
	transportpkg "github.com/drblury/pktflow/internal/runtime/transport"
	"github.com/drblury/pktflow/internal/runtime/wire"
	"github.com/drblury/pktflow/transport"
)

// Tags and items.
type (
	Tag        = tag.Tag
	TagEntry   = tag.Entry
	Attributes = tag.Attributes
	Value      = tag.Value

	Item[T any] = stream.Item[T]
)

// Packets and their conversion to and from tagged streams.
type (
	Pdu[T any] = pdu.Pdu[T]
	Bytes      = pdu.Bytes

	AssemblerConfig     = pdu.AssemblerConfig
	AssemblerStats      = pdu.AssemblerStats
	Assembler[T any]    = pdu.Assembler[T]
	DisassemblerConfig  = pdu.DisassemblerConfig
	DisassemblerStats   = pdu.DisassemblerStats
	Disassembler[T any] = pdu.Disassembler[T]
	PduOption           = pdu.Option
	PduHooks            = pdu.Hooks
	PduEvent            = pdu.Event
	PduOrphan           = pdu.Orphan
)

// Propagation policies and stages.
type (
	Propagator    = policy.Propagator
	RescaleConfig = policy.RescaleConfig
	Rescale       = policy.Rescale
	RescaleOption = policy.Option

	Stage[In, Out any] = stage.Stage[In, Out]
	PacketStage        = stage.PacketStage
	PacketFunc         = stage.PacketFunc
	PacketChain        = stage.Chain
	CrcConfig          = stage.CrcConfig
)

// Boundary adapters.
type (
	PacketSink[T any]   = boundary.PacketSink[T]
	PacketSource[T any] = boundary.PacketSource[T]
	Lifecycle           = boundary.Lifecycle
	SinkFunc[T any]     = boundary.SinkFunc[T]
	Collector[T any]    = boundary.Collector[T]
	SliceSource[T any]  = boundary.SliceSource[T]
	ForwardOptions      = boundary.ForwardOptions
	ForwardStats        = boundary.ForwardStats

	DevicePort    = device.Port
	DeviceOptions = device.Options
	Framer        = device.Framer

	CaptureOptions = capture.Options
	CaptureSink    = capture.Sink
	CaptureSource  = capture.Source

	ArchiveOptions = archive.Options
	ArchiveSink    = archive.Sink
	ArchiveSource  = archive.Source
	ArchiveStore   = archive.Store
	ArchiveRecord  = archive.Record

	TransportSink    = runtimepkg.TransportSink
	TransportSource  = runtimepkg.TransportSource
	TransportOptions = runtimepkg.TransportOptions

	Codec[T any]     = wire.Codec[T]
	ItemCodec[T any] = wire.ItemCodec[T]
)

// Service and handlers.
type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory
	Capabilities        = transportpkg.Capabilities

	MessageHandlerRegistration = runtimepkg.MessageHandlerRegistration
	PacketHandlerRegistration  = handlerpkg.PacketHandlerRegistration
	PacketHandler              = handlerpkg.PacketHandler
	PacketContext              = handlerpkg.PacketContext
	PacketOutput               = handlerpkg.PacketOutput
	PacketCodec                = handlerpkg.PacketCodec
	MessageContextBase         = handlerpkg.MessageContextBase
	UndecodablePacketError     = handlerpkg.UndecodablePacketError

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	HookContext            = runtimepkg.HookContext
	PacketHooks            = runtimepkg.PacketHooks

	HandlerInfo     = runtimepkg.HandlerInfo
	HandlerStats    = runtimepkg.HandlerStats
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	Metadata      = metadatapkg.Metadata
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
	Recorder      = metricspkg.Recorder

	ConfigValidationError = errspkg.ConfigValidationError
	ViolationError        = errspkg.ViolationError
	ViolationKind         = errspkg.ViolationKind

	TransportBuilder  = transport.Builder
	TransportConfig   = transport.Config
	TransportRegistry = transport.Registry
)

const DefaultBoundaryKey = tag.DefaultBoundaryKey

const (
	ViolationPrematureBoundary = errspkg.ViolationPrematureBoundary
	ViolationMalformedBoundary = errspkg.ViolationMalformedBoundary
	ViolationOrphanItem        = errspkg.ViolationOrphanItem
	ViolationOrphanTag         = errspkg.ViolationOrphanTag
	ViolationEmptyPdu          = errspkg.ViolationEmptyPdu
)

var (
	NewTag        = tag.New
	KV            = tag.KV
	NewAttributes = tag.NewAttributes
	ValueOf       = tag.Of
	Int64         = tag.Int64
	Uint64        = tag.Uint64
	Float64       = tag.Float64
	Bool          = tag.Bool
	String        = tag.String
	MapValue      = tag.Map

	Pass                = policy.Pass
	Block               = policy.Block
	MergeOnSync         = policy.MergeOnSync
	NewRescale          = policy.NewRescale
	WithRescaleLogger   = policy.WithLogger
	WithRescaleRecorder = policy.WithRecorder

	NewCrcAppend = stage.NewCrcAppend
	NewCrcCheck  = stage.NewCrcCheck
	NewCounter   = stage.NewCounter
	CRC32        = stage.CRC32
	CRC16CCITT   = stage.CRC16CCITT
	IsDrop       = stage.IsDrop

	WithPduLogger   = pdu.WithLogger
	WithPduRecorder = pdu.WithRecorder
	WithPduHooks    = pdu.WithHooks

	Forward = boundary.Forward
	Run     = boundary.Run
	RunAll  = boundary.RunAll

	NewDevicePort    = device.NewPort
	DeviceFromConfig = device.FromConfig
	OpenFile         = device.OpenFile
	OpenTUN          = device.OpenTUN
	FramerFor        = device.FramerFor

	NewCaptureSink   = capture.NewSink
	NewCaptureSource = capture.NewSource
	NewArchiveSink   = archive.NewSink
	NewArchiveSource = archive.NewSource
	DescribePacket   = capture.Describe

	ByteCodec = wire.ByteCodec

	NewTransportSink   = runtimepkg.NewTransportSink
	NewTransportSource = runtimepkg.NewTransportSource
	PublishPdu         = runtimepkg.PublishPdu

	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.LoadFile
	ParseConfig    = configpkg.Parse

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler
	RegisterPacketHandler  = runtimepkg.RegisterPacketHandler
	BinaryCodec            = handlerpkg.BinaryCodec
	JSONCodec              = handlerpkg.JSONCodec

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	PacketHooksMiddleware   = runtimepkg.PacketHooksMiddleware
	LoggingHooks            = runtimepkg.LoggingHooks
	MetricsHooks            = runtimepkg.MetricsHooks
	AlertingHooks           = runtimepkg.AlertingHooks

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	DefaultLogger        = loggingpkg.Default
	NopLogger            = loggingpkg.Nop
	NewPrometheus        = metricspkg.NewPrometheus
	NopRecorder          = metricspkg.Nop

	NewStreamID  = idspkg.NewStreamID
	NewMessageID = idspkg.NewMessageID

	RegisterTransport    = transport.RegisterWithCapabilities
	NewTransportRegistry = transport.NewRegistry
)

var (
	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrSubscriberRequired   = errspkg.ErrSubscriberRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired

	ErrBoundaryKeyRequired = errspkg.ErrBoundaryKeyRequired
	ErrInvalidRatio        = errspkg.ErrInvalidRatio
	ErrLengthOverflow      = errspkg.ErrLengthOverflow
	ErrInvalidFactor       = errspkg.ErrInvalidFactor
	ErrPolicyArity         = errspkg.ErrPolicyArity
	ErrPolicyRequired      = errspkg.ErrPolicyRequired

	ErrPrematureBoundary = errspkg.ErrPrematureBoundary
	ErrMalformedBoundary = errspkg.ErrMalformedBoundary
	ErrOrphanItem        = errspkg.ErrOrphanItem
	ErrOrphanTag         = errspkg.ErrOrphanTag
	ErrEmptyPdu          = errspkg.ErrEmptyPdu
	ErrPacketTooLarge    = errspkg.ErrPacketTooLarge
	ErrChecksumMismatch  = errspkg.ErrChecksumMismatch
)

// NewPdu builds a packet and validates its tag offsets.
func NewPdu[T any](data []T, tags ...Tag) (Pdu[T], error) {
	return pdu.New(data, tags...)
}

func NewAssembler[T any](cfg AssemblerConfig, opts ...PduOption) (*Assembler[T], error) {
	return pdu.NewAssembler[T](cfg, opts...)
}

func NewDisassembler[T any](cfg DisassemblerConfig, opts ...PduOption) *Disassembler[T] {
	return pdu.NewDisassembler[T](cfg, opts...)
}

func Tagged[T any](offset uint64, value T, attrs Attributes) Item[T] {
	return stream.Tagged(offset, value, attrs)
}

func FromValues[T any](start uint64, values []T, tags []Tag) ([]Item[T], []Tag) {
	return stream.FromValues(start, values, tags)
}

func NewMap[In, Out any](fn func(In) Out, p Propagator) (*stage.Map[In, Out], error) {
	return stage.NewMap(fn, p)
}

func NewRetag[T any](cfg RescaleConfig, opts ...RescaleOption) (*stage.Map[T, T], error) {
	return stage.NewRetag[T](cfg, opts...)
}

func NewRepeat[T any](factor int, p Propagator) (*stage.Repeat[T], error) {
	return stage.NewRepeat[T](factor, p)
}

func NewDecimate[T any](factor int, p Propagator) (*stage.Decimate[T], error) {
	return stage.NewDecimate[T](factor, p)
}

func NewCombine[T any](ports int, fn func([]T) T, p Propagator) (*stage.Combine[T], error) {
	return stage.NewCombine(ports, fn, p)
}

// NewStreamToTagged tags every length-th item as the start of a packet.
func NewStreamToTagged[T any](length uint64, key string) (*stage.StreamToTagged[T], error) {
	return stage.NewStreamToTagged[T](length, key)
}

func NewMux[T any](ports int, key string) (*stage.Mux[T], error) {
	return stage.NewMux[T](ports, key)
}

// ConcatPdus joins packets in order, shifting their tags.
func ConcatPdus[T any](parts ...Pdu[T]) (Pdu[T], error) {
	return stage.Concat(parts...)
}

func NewSliceSource[T any](pdus ...Pdu[T]) *SliceSource[T] {
	return boundary.NewSliceSource(pdus...)
}

// OpenArchive opens the SQLite packet archive at path.
func OpenArchive(ctx context.Context, path string) (*ArchiveStore, error) {
	return archive.Open(ctx, path)
}
