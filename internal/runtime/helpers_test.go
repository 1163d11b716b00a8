package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/pktflow/internal/runtime/config"
	loggingpkg "github.com/drblury/pktflow/internal/runtime/logging"
)

type testPublisher struct {
	mu        sync.Mutex
	published []string
	messages  []*message.Message
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.published = append(p.published, topic)
		p.messages = append(p.messages, msg)
	}
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]string, len(p.published))
	copy(clone, p.published)
	return clone
}

func (p *testPublisher) Messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]*message.Message, len(p.messages))
	copy(clone, p.messages)
	return clone
}

type testSubscriber struct {
	err error
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

// capturingLogger records message texts by level. Children share the parent's buffers.
type capturingLogger struct {
	mu     *sync.Mutex
	fields loggingpkg.LogFields
	debug  []string
	info   []string
	errors []string
	shared *capturingLogger
}

func newTestLogger() *capturingLogger {
	return &capturingLogger{mu: &sync.Mutex{}}
}

func (l *capturingLogger) root() *capturingLogger {
	if l.shared != nil {
		return l.shared
	}
	return l
}

func (l *capturingLogger) lock() func() {
	if l.mu == nil {
		l.mu = &sync.Mutex{}
	}
	l.mu.Lock()
	return l.mu.Unlock
}

func (l *capturingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	r := l.root()
	return &capturingLogger{mu: r.mu, fields: loggingpkg.Merge(l.fields, fields), shared: r}
}

func (l *capturingLogger) Debug(msg string, _ loggingpkg.LogFields) {
	r := l.root()
	defer r.lock()()
	r.debug = append(r.debug, msg)
}

func (l *capturingLogger) Info(msg string, _ loggingpkg.LogFields) {
	r := l.root()
	defer r.lock()()
	r.info = append(r.info, msg)
}

func (l *capturingLogger) Error(msg string, _ error, _ loggingpkg.LogFields) {
	r := l.root()
	defer r.lock()()
	r.errors = append(r.errors, msg)
}

func (l *capturingLogger) Trace(string, loggingpkg.LogFields) {}

func (l *capturingLogger) Errors() []string {
	r := l.root()
	defer r.lock()()
	return append([]string(nil), r.errors...)
}

// countingRecorder records packet-path events as "label/label" strings.
type countingRecorder struct {
	mu         sync.Mutex
	violations []string
	pdus       []string
	items      int
	ioFailures []string
	dropped    []string
}

func (r *countingRecorder) Violation(stream, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, fmt.Sprintf("%s/%s", stream, kind))
}

func (r *countingRecorder) Pdu(stream, direction string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pdus = append(r.pdus, fmt.Sprintf("%s/%s", stream, direction))
}

func (r *countingRecorder) Items(_ string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items += n
}

func (r *countingRecorder) IOFailure(adapter string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ioFailures = append(r.ioFailures, adapter)
}

func (r *countingRecorder) Dropped(stage, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, fmt.Sprintf("%s/%s", stage, reason))
}

func (r *countingRecorder) DroppedEvents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dropped...)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := newTestLogger()
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: time.Second}, wmLogger)
	if err != nil {
		t.Fatalf("router init failed: %v", err)
	}
	conf := configpkg.Config{}.WithDefaults()
	return &Service{
		Conf:       &conf,
		Logger:     log,
		router:     router,
		publisher:  &testPublisher{},
		subscriber: &testSubscriber{},
		recorder:   &countingRecorder{},
	}
}
