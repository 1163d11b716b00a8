// Package jetstream carries packets over a NATS JetStream stream. Unlike core
// NATS the stream keeps packets for a bounded time and consumers acknowledge
// each one, so a short subscriber outage does not lose traffic.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/pktflow/transport"
)

const TransportName = "nats-jetstream"

const (
	DefaultStreamName = "PKTFLOW"
	DefaultMaxAge     = time.Hour
	DefaultAckWait    = 5 * time.Second
	// DefaultMaxDeliver of 1 means a nacked packet is dropped, not redelivered.
	DefaultMaxDeliver = 1
	DefaultFetchBatch = 64
)

var ErrClosed = errors.New("jetstream: transport is closed")

// Connect opens the NATS connection. Tests replace it.
var Connect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("pktflow-jetstream"), nats.MaxReconnects(-1))
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t, Subscriber: t}, nil
}

func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

type Config struct {
	URL        string
	StreamName string
	MaxAge     time.Duration
	AckWait    time.Duration
	MaxDeliver int
	FetchBatch int
	Replicas   int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = DefaultFetchBatch
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// streamAPI is the part of nats.JetStreamContext the transport uses.
type streamAPI interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	UpdateConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Transport is both the publisher and the subscriber.
type Transport struct {
	nc     *nats.Conn
	js     streamAPI
	cfg    Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed chan struct{}
	once   sync.Once
}

func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("jetstream: url is required")
	}
	nc, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: context: %w", err)
	}
	t, err := newTransport(nc, js, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func newTransport(nc *nats.Conn, js streamAPI, cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	t := &Transport{
		nc:     nc,
		js:     js,
		cfg:    cfg.withDefaults(),
		logger: logger,
		closed: make(chan struct{}),
	}
	if err := t.ensureStream(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      t.cfg.StreamName,
		Subjects:  []string{t.cfg.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.MemoryStorage,
		MaxAge:    t.cfg.MaxAge,
		Replicas:  t.cfg.Replicas,
	}
}

func (t *Transport) ensureStream() error {
	sc := t.streamConfig()
	if _, err := t.js.AddStream(sc); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(sc); err != nil {
		return fmt.Errorf("jetstream: stream %s: %w", sc.Name, err)
	}
	return nil
}

func (t *Transport) subject(topic string) string {
	return t.cfg.StreamName + "." + topic
}

// consumerName derives a durable name. Durable names may not contain dots.
func consumerName(topic string) string {
	return "pktflow_" + strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(topic)
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Publish stores each packet with its UUID as the dedup id.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	subject := t.subject(topic)
	for _, msg := range messages {
		header := nats.Header{}
		for k, v := range msg.Metadata {
			header.Set(k, v)
		}
		header.Set(nats.MsgIdHdr, msg.UUID)
		if _, err := t.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: header}); err != nil {
			return fmt.Errorf("jetstream: publish %s: %w", msg.UUID, err)
		}
	}
	return nil
}

func (t *Transport) consumerConfig(topic string) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:       consumerName(topic),
		FilterSubject: t.subject(topic),
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       t.cfg.AckWait,
		MaxDeliver:    t.cfg.MaxDeliver,
		DeliverPolicy: nats.DeliverNewPolicy,
	}
}

// Subscribe starts a pull consumer that sees packets published from now on.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	cc := t.consumerConfig(topic)
	if _, err := t.js.AddConsumer(t.cfg.StreamName, cc); err != nil {
		if _, err := t.js.UpdateConsumer(t.cfg.StreamName, cc); err != nil {
			return nil, fmt.Errorf("jetstream: consumer %s: %w", cc.Durable, err)
		}
	}
	sub, err := t.js.PullSubscribe(cc.FilterSubject, cc.Durable)
	if err != nil {
		return nil, fmt.Errorf("jetstream: subscribe %s: %w", topic, err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	out := make(chan *message.Message)
	go t.pull(ctx, sub, topic, out)
	return out, nil
}

func (t *Transport) pull(ctx context.Context, sub *nats.Subscription, topic string, out chan<- *message.Message) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		default:
		}

		batch, err := sub.Fetch(t.cfg.FetchBatch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			t.logger.Error("jetstream: fetch failed", err, watermill.LogFields{"topic": topic})
			continue
		}
		for _, nm := range batch {
			if !t.handOver(ctx, nm, out) {
				return
			}
		}
	}
}

// handOver blocks until the handler settled the packet. It returns false when
// the subscription ends first.
func (t *Transport) handOver(ctx context.Context, nm *nats.Msg, out chan<- *message.Message) bool {
	msg := toMessage(nm)
	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-t.closed:
		return false
	}

	var err error
	select {
	case <-msg.Acked():
		err = nm.Ack()
	case <-msg.Nacked():
		err = nm.Nak()
	case <-ctx.Done():
		return false
	case <-t.closed:
		return false
	}
	if err != nil {
		t.logger.Error("jetstream: settle failed", err, watermill.LogFields{"uuid": msg.UUID})
	}
	return true
}

func toMessage(nm *nats.Msg) *message.Message {
	id := nm.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, nm.Data)
	for k, v := range nm.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		for _, sub := range t.subs {
			_ = sub.Unsubscribe()
		}
		t.subs = nil
		t.mu.Unlock()
		if t.nc != nil {
			t.nc.Close()
		}
	})
	return nil
}

func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
