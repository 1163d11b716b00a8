/*
Package runtime hosts the packet service: the Watermill router, the broker
transport and the adapters that carry packets across it.

# Service (service.go)

Service wires a router, a publisher and a subscriber built by the transport
factory, the middleware chain, the packet recorder and the optional HTTP
servers for metrics and the stats API.

# Handlers (registration.go)

RegisterMessageHandler registers a raw Watermill handler.
RegisterPacketHandler decodes each message into a byte packet, calls the
handler and publishes the returned packets.

# Transport adapters (packets.go, publisher.go)

TransportSink publishes one message per packet and TransportSource decodes
messages back into packets. Both satisfy the boundary interfaces, so
boundary.Forward can move packets between a device and a topic.

# Middleware (middleware.go, hooks.go)

  - CorrelationID: stamps a correlation id on every message
  - LogMessages: debug logging of payload sizes and metadata
  - Tracer: OpenTelemetry spans per handler
  - Metrics: Watermill Prometheus metrics
  - PoisonQueue: undecodable payloads are moved aside
  - Recoverer: panic recovery
  - PacketHooks: start/done/error callbacks with packet length

# Stats (models.go, resources.go, stats_api.go)

Per-handler latency percentiles, throughput, error categories and resource
samples, served as JSON under /api/handlers. /api/packets serves the
per-stream packet counters when the recorder is Prometheus backed.

# Sub-packages

  - tag/: tag values, attributes and boundary helpers
  - stream/: tagged items and offset checks
  - pdu/: packets, Assembler and Disassembler
  - policy/: tag propagation policies
  - stage/: item and packet stages
  - boundary/: sink/source contracts and Forward
  - device/, capture/, archive/: device ports, pcap files and SQLite archive
  - wire/: binary and JSON packet codecs
  - config/, errors/, handlers/, ids/, jsoncodec/, logging/, metadata/,
    metrics/, transport/: supporting packages

# Usage Example

	cfg := &pktflow.Config{
		PubSubSystem: "kafka",
		KafkaBrokers: []string{"localhost:9092"},
	}

	svc := pktflow.NewService(cfg, logger, ctx, pktflow.ServiceDependencies{})

	pktflow.RegisterPacketHandler(svc, pktflow.PacketHandlerRegistration{
		Name:         "crc-check",
		ConsumeQueue: "pktflow.rx",
		PublishQueue: "pktflow.checked",
		Handler:      checkPacket,
	})

	svc.Start(ctx)
*/
package runtime
