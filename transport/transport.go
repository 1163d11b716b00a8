// Package transport defines the broker plumbing that carries packet messages
// between pktflow processes. Each backend (kafka, rabbitmq, nats, aws, ...)
// lives in its own sub-package and registers a Builder with the registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// StreamIDMetadataKey carries the id of the stream a packet belongs to.
// Backends with partitions or keys use it so one stream stays ordered.
const StreamIDMetadataKey = "pktflow_stream_id"

// Transport is a publisher and subscriber pair produced by a Builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the subscriber and then the publisher. When both are the same
// value it is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.Publisher != nil && any(t.Publisher) != any(t.Subscriber) {
		if err := t.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the subset of the service configuration a backend reads.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetIOFile() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// StreamKey returns the partition key for msg: its stream id, or its UUID
// when the packet was published without one.
func StreamKey(_ string, msg *message.Message) (string, error) {
	if id := msg.Metadata.Get(StreamIDMetadataKey); id != "" {
		return id, nil
	}
	return msg.UUID, nil
}
