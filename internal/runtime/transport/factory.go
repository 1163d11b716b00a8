package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/pktflow/internal/runtime/config"
	"github.com/drblury/pktflow/transport"

	_ "github.com/drblury/pktflow/transport/transports"
)

// Transport is the publisher and subscriber pair a service runs on.
type Transport = transport.Transport

// Factory builds the transport for a service configuration.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory selects a backend from the registry by conf.PubSubSystem.
func DefaultFactory() Factory {
	return registryFactory{registry: transport.DefaultRegistry}
}

// RegistryFactory builds from a specific registry.
func RegistryFactory(r *transport.Registry) Factory {
	return registryFactory{registry: r}
}

type registryFactory struct {
	registry *transport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errors.New("config is required")
	}
	return f.registry.Build(ctx, conf, logger)
}
