package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/pktflow/internal/runtime/config"
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/transport"
	"github.com/drblury/pktflow/transport/transporttest"
)

func testLogger() watermill.LoggerAdapter {
	return logging.NewWatermillAdapter(logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestDefaultFactoryBuildsChannel(t *testing.T) {
	for _, name := range []string{"channel", "gochannel", "Channel"} {
		t.Run(name, func(t *testing.T) {
			tr, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: name}, testLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = tr.Close() })
			assert.NotNil(t, tr.Publisher)
			assert.NotNil(t, tr.Subscriber)
		})
	}
}

func TestDefaultFactoryRegistersBuiltins(t *testing.T) {
	for _, name := range []string{"aws", "channel", "http", "io", "kafka", "nats", "nats-jetstream", "rabbitmq"} {
		assert.True(t, transport.DefaultRegistry.Has(name), name)
	}
	assert.False(t, transport.DefaultRegistry.Has("sqlite"))
}

func TestFactoryErrors(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, testLogger())
	assert.EqualError(t, err, "config is required")

	_, err = DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "carrier-pigeon"}, testLogger())
	assert.ErrorContains(t, err, "unknown pubsub system")
}

func TestRegistryFactory(t *testing.T) {
	reg := transport.NewRegistry()
	pub, sub := &transporttest.Publisher{}, &transporttest.Subscriber{}
	want := errors.New("offline")
	reg.Register("fake", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Publisher: pub, Subscriber: sub}, nil
	})
	reg.Register("down", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{}, want
	})

	tr, err := RegistryFactory(reg).Build(context.Background(), &config.Config{PubSubSystem: "fake"}, nil)
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)

	_, err = RegistryFactory(reg).Build(context.Background(), &config.Config{PubSubSystem: "down"}, nil)
	assert.ErrorIs(t, err, want)
}

func TestFactoryFunc(t *testing.T) {
	called := false
	f := FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
		called = true
		return Transport{}, nil
	})
	_, err := f.Build(context.Background(), &config.Config{}, nil)
	require.NoError(t, err)
	assert.True(t, called)
}
