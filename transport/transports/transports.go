// Package transports registers every built-in backend. Import it for side
// effects to make all pubsub_system values available.
package transports

import (
	_ "github.com/drblury/pktflow/transport/aws"
	_ "github.com/drblury/pktflow/transport/channel"
	_ "github.com/drblury/pktflow/transport/http"
	_ "github.com/drblury/pktflow/transport/io"
	_ "github.com/drblury/pktflow/transport/jetstream"
	_ "github.com/drblury/pktflow/transport/kafka"
	_ "github.com/drblury/pktflow/transport/nats"
	_ "github.com/drblury/pktflow/transport/rabbitmq"
)
