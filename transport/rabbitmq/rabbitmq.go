// Package rabbitmq carries packets over AMQP fanout exchanges. Exchanges and
// queues are non-durable: packets are transient and a broker restart drops
// them like any other link loss.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pktflow/transport"
)

const TransportName = "rabbitmq"

var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

var CloseConnection = func(conn *amqp.ConnectionWrapper) error {
	return conn.Close()
}

var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// sharedConnPublisher closes the connection the publisher and subscriber share
// after the publisher. Transport.Close closes the subscriber first.
type sharedConnPublisher struct {
	message.Publisher
	conn *amqp.ConnectionWrapper
}

func (p sharedConnPublisher) Close() error {
	return errors.Join(p.Publisher.Close(), CloseConnection(p.conn))
}

// Build opens one connection for both directions.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("rabbitmq: url is required")
	}
	amqpConfig := amqp.NewNonDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, CloseConnection(conn))
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close(), CloseConnection(conn))
	}

	return transport.Transport{
		Publisher:  sharedConnPublisher{Publisher: publisher, conn: conn},
		Subscriber: subscriber,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
