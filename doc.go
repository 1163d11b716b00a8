// Package pktflow moves framed byte packets between devices and message
// brokers on top of Watermill.
//
// Inside a pipeline a packet (Pdu) is flattened into a stream of items where
// the first item carries a boundary tag holding the packet length. Stages
// transform the items and move their tags with one of the propagation
// policies (Pass, Block, Rescale or MergeOnSync). An Assembler rebuilds
// packets from the tagged stream and reports every contract violation it
// recovers from: premature or malformed boundaries, orphan items and orphan
// tags. A Disassembler does the reverse and keeps stream offsets monotonic
// across packets.
//
// At the edges, packets leave and enter the process through boundary
// adapters: device ports (file, TUN or serial), pcap capture files, a SQLite
// archive and broker topics served by the Service.
//
// # Transports
//
// The Service reads the broker from Config.PubSubSystem:
//   - channel: in-memory Go channels for tests and single-process pipelines
//   - kafka: partitioned by stream id so each stream stays ordered
//   - rabbitmq: AMQP fan-out exchanges
//   - nats: core NATS subjects
//   - nats-jetstream: NATS JetStream with bounded retention
//   - aws: SNS topics fanned out to SQS queues (LocalStack friendly)
//   - http: POST per packet
//   - io: newline-delimited JSON file
//
// Every transport reports Capabilities; packets larger than a backend's
// message limit are rejected rather than split.
//
// # Middleware
//
// The default chain adds correlation IDs, message logging, OpenTelemetry
// tracing, Prometheus metrics, the poison queue for undecodable payloads and
// panic recovery. PacketHooksMiddleware exposes start/done/error callbacks.
//
// A minimal setup fills Config, creates a Service, registers a packet handler
// with RegisterPacketHandler and calls Start.
package pktflow
