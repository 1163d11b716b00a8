// Package transport connects the service to the backend registry in
// github.com/drblury/pktflow/transport.
package transport

import (
	"github.com/drblury/pktflow/transport"
)

type Capabilities = transport.Capabilities

type CapabilitiesProvider = transport.CapabilitiesProvider

var (
	ChannelCapabilities       = transport.ChannelCapabilities
	KafkaCapabilities         = transport.KafkaCapabilities
	RabbitMQCapabilities      = transport.RabbitMQCapabilities
	NATSCapabilities          = transport.NATSCapabilities
	NATSJetStreamCapabilities = transport.NATSJetStreamCapabilities
	AWSCapabilities           = transport.AWSCapabilities
	HTTPCapabilities          = transport.HTTPCapabilities
	IOCapabilities            = transport.IOCapabilities
)

// GetCapabilities returns the registered capabilities for a pubsub system name.
func GetCapabilities(name string) Capabilities {
	return transport.GetCapabilities(name)
}
