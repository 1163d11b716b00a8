package transport

// Capabilities describes what a backend guarantees for packet messages.
type Capabilities struct {
	Name string

	// SupportsOrdering means messages on one topic (or one partition key)
	// arrive in publish order.
	SupportsOrdering bool

	// SupportsPartitioning means the backend spreads a topic over partitions
	// keyed by the stream id.
	SupportsPartitioning bool

	// SupportsAck and SupportsNack report explicit acknowledgement and redelivery.
	SupportsAck  bool
	SupportsNack bool

	// SupportsTracing means metadata headers survive the hop, so trace ids
	// and the packet headers are preserved.
	SupportsTracing bool

	// Persistent means packets outlive the publishing process.
	Persistent bool

	// MaxMessageSize is the largest encoded packet in bytes; 0 is unlimited.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack and nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// PreservesStreamOrder reports whether packets of one stream keep their order
// end to end.
func (c Capabilities) PreservesStreamOrder() bool {
	return c.SupportsOrdering
}

// Fits reports whether an encoded packet of n bytes can be published.
func (c Capabilities) Fits(n int64) bool {
	return c.MaxMessageSize <= 0 || n <= c.MaxMessageSize
}

const (
	oneMiB         = 1 << 20
	sqsMaxBodySize = 256 << 10
)

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		SupportsAck:          true,
		SupportsTracing:      true,
		Persistent:           true,
		MaxMessageSize:       oneMiB,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	// NATSCapabilities is core NATS: at-most-once, no persistence.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  oneMiB,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		Persistent:       true,
		MaxMessageSize:   oneMiB,
	}

	// AWSCapabilities is SNS fan-out into SQS. Standard queues do not order.
	AWSCapabilities = Capabilities{
		Name:            "aws",
		SupportsAck:     true,
		SupportsNack:    true,
		SupportsTracing: true,
		Persistent:      true,
		MaxMessageSize:  sqsMaxBodySize,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// IOCapabilities is the newline-delimited file transport used for
	// recording and replaying packet traffic.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		SupportsTracing:  true,
		Persistent:       true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name,
// or a zero value carrying only the name when it is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
