// Package io records packets to an append-only JSON lines file and replays
// them by following the same file. It is meant for captures and offline
// replays rather than live links.
package io

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pktflow/internal/runtime/jsoncodec"
	"github.com/drblury/pktflow/transport"
)

const TransportName = "io"

const DefaultFilePath = "packets.jsonl"

// PollInterval is how long a follower waits at end of file before reading again.
var PollInterval = 50 * time.Millisecond

var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger), nil
}

var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return NewSubscriber(filePath, logger), nil
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// record is one line of the file. Payload is base64 in JSON.
type record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// Publisher appends one record per packet.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

func NewPublisher(filePath string, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{filePath: filePath, logger: logger}
}

// Publish writes all messages with one open and one write call so a batch is
// never interleaved with another publisher of the same process.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	var buf []byte
	for _, msg := range messages {
		line, err := jsoncodec.Marshal(record{
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		})
		if err != nil {
			return fmt.Errorf("io: encode %s: %w", msg.UUID, err)
		}
		buf = append(append(buf, line...), '\n')
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (p *Publisher) Close() error {
	return nil
}

// Subscriber follows the file from its start and emits records of one topic.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter

	closeOnce sync.Once
	closed    chan struct{}
}

func NewSubscriber(filePath string, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{filePath: filePath, logger: logger, closed: make(chan struct{})}
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)
	go s.follow(ctx, f, topic, out)
	return out, nil
}

func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Subscriber) follow(ctx context.Context, f *os.File, topic string, out chan<- *message.Message) {
	defer close(out)
	defer f.Close()

	fields := watermill.LogFields{"file": s.filePath, "topic": topic}
	r := bufio.NewReader(f)
	var pending []byte
	for {
		chunk, err := r.ReadBytes('\n')
		pending = append(pending, chunk...)
		switch {
		case err == nil:
			line := pending
			pending = nil
			if !s.deliver(ctx, out, line, topic) {
				return
			}
		case errors.Is(err, io.EOF):
			// a partial line stays pending until the writer finishes it
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case <-time.After(PollInterval):
			}
		default:
			s.logger.Error("io: read failed", err, fields)
			return
		}
	}
}

// deliver returns false when the subscription should stop.
func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	var rec record
	if err := jsoncodec.Unmarshal(line, &rec); err != nil {
		s.logger.Error("io: skipping malformed record", err, watermill.LogFields{"file": s.filePath})
		return true
	}
	if rec.Topic != topic {
		return true
	}

	msg := message.NewMessage(rec.UUID, rec.Payload)
	for k, v := range rec.Metadata {
		msg.Metadata.Set(k, v)
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		// replays are not retried; the next record follows
		s.logger.Debug("io: packet nacked", watermill.LogFields{"uuid": msg.UUID})
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
	return true
}
