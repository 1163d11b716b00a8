package runtime

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/pktflow/internal/runtime/config"
	handlerpkg "github.com/drblury/pktflow/internal/runtime/handlers"
	idspkg "github.com/drblury/pktflow/internal/runtime/ids"
)

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	prev := metricsRegisterer
	metricsRegisterer = reg
	t.Cleanup(func() { metricsRegisterer = prev })
	return reg
}

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("adds missing id and copies it to outputs", func(t *testing.T) {
		msg := message.NewMessage(idspkg.NewMessageID(), nil)
		var seen string
		out, err := correlationIDMiddleware(func(m *message.Message) ([]*message.Message, error) {
			seen = m.Metadata.Get(handlerpkg.MetadataKeyCorrelationID)
			return []*message.Message{message.NewMessage("out", nil)}, nil
		})(msg)
		require.NoError(t, err)
		require.NotEmpty(t, seen)
		require.Len(t, out, 1)
		assert.Equal(t, seen, out[0].Metadata.Get(handlerpkg.MetadataKeyCorrelationID))
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.NewMessageID(), nil)
		msg.Metadata.Set(handlerpkg.MetadataKeyCorrelationID, "fixed")
		out, err := correlationIDMiddleware(func(m *message.Message) ([]*message.Message, error) {
			assert.Equal(t, "fixed", m.Metadata.Get(handlerpkg.MetadataKeyCorrelationID))
			produced := message.NewMessage("out", nil)
			produced.Metadata.Set(handlerpkg.MetadataKeyCorrelationID, "own")
			return []*message.Message{produced}, nil
		})(msg)
		require.NoError(t, err)
		assert.Equal(t, "own", out[0].Metadata.Get(handlerpkg.MetadataKeyCorrelationID))
	})
}

func TestPoisonMiddlewareWithFilter(t *testing.T) {
	svc := newTestService(t)
	svc.Conf.PoisonQueue = "poison"
	pub := svc.publisher.(*testPublisher)
	rec := svc.recorder.(*countingRecorder)

	mw, err := svc.poisonMiddlewareWithFilter(func(error) bool { return true })
	require.NoError(t, err)

	msg := message.NewMessage(idspkg.NewMessageID(), []byte("junk"))
	_, err = mw(func(*message.Message) ([]*message.Message, error) {
		return nil, errors.New("boom")
	})(msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"poison"}, pub.Topics())
	assert.Equal(t, []string{"poison_queue/poisoned"}, rec.DroppedEvents())
}

func TestPoisonMiddlewareWithFilter_Misconfigured(t *testing.T) {
	t.Parallel()

	_, err := (&Service{}).poisonMiddlewareWithFilter(isUndecodable)
	assert.Error(t, err, "config is required")

	_, err = (&Service{Conf: &configpkg.Config{PoisonQueue: "poison"}}).poisonMiddlewareWithFilter(isUndecodable)
	assert.Error(t, err, "publisher is required")

	_, err = (&Service{Conf: &configpkg.Config{}, publisher: &testPublisher{}}).poisonMiddlewareWithFilter(isUndecodable)
	assert.Error(t, err, "empty poison topic is rejected")
}

func TestPoisonQueueMiddlewareDefaultFilter(t *testing.T) {
	svc := newTestService(t)
	pub := svc.publisher.(*testPublisher)

	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)

	msg := message.NewMessage(idspkg.NewMessageID(), []byte("junk"))
	_, err = mw(func(*message.Message) ([]*message.Message, error) {
		return nil, &UndecodablePacketError{MessageUUID: msg.UUID, Err: errors.New("bad")}
	})(msg)
	require.NoError(t, err, "undecodable packets are diverted, not retried")
	assert.Equal(t, []string{configpkg.DefaultPoisonQueue}, pub.Topics())

	_, err = mw(func(*message.Message) ([]*message.Message, error) {
		return nil, errors.New("downstream down")
	})(msg)
	require.Error(t, err)
	assert.Len(t, pub.Topics(), 1)
}

func TestLogMessagesMiddleware(t *testing.T) {
	t.Parallel()

	log := newTestLogger()
	msg := message.NewMessage(idspkg.NewMessageID(), []byte("payload"))
	_, err := logMessagesMiddleware(log)(func(*message.Message) ([]*message.Message, error) { return nil, nil })(msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"Processing packet message"}, log.debug)
}

func TestLogMessagesMiddlewareValidations(t *testing.T) {
	t.Parallel()

	_, err := LogMessagesMiddleware(nil).Builder(&Service{})
	require.Error(t, err)

	mw, err := LogMessagesMiddleware(newTestLogger()).Builder(&Service{})
	require.NoError(t, err)
	assert.NotNil(t, mw)
}

func TestTracerMiddleware(t *testing.T) {
	t.Parallel()

	mw, err := TracerMiddleware().Builder(&Service{})
	require.NoError(t, err)

	msg := message.NewMessage(idspkg.NewMessageID(), nil)
	msg.Metadata.Set(handlerpkg.MetadataKeyStreamID, "uplink")
	var observed trace.Span
	want := errors.New("fail")
	_, err = mw(func(m *message.Message) ([]*message.Message, error) {
		observed = trace.SpanFromContext(m.Context())
		return nil, want
	})(msg)
	require.ErrorIs(t, err, want)
	assert.NotNil(t, observed)
}

func TestRecovererMiddleware(t *testing.T) {
	t.Parallel()

	reg := RecovererMiddleware()
	require.NotNil(t, reg.Middleware)
	_, err := reg.Middleware(func(*message.Message) ([]*message.Message, error) {
		panic("stage bug")
	})(message.NewMessage("id", nil))
	assert.Error(t, err)
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	t.Parallel()

	passthrough := func(h message.HandlerFunc) message.HandlerFunc { return h }

	t.Run("requires router", func(t *testing.T) {
		err := (&Service{}).RegisterMiddleware(MiddlewareRegistration{Middleware: passthrough})
		assert.Error(t, err)
	})

	t.Run("requires middleware or builder", func(t *testing.T) {
		err := newTestService(t).RegisterMiddleware(MiddlewareRegistration{Name: "empty"})
		assert.Error(t, err)
	})

	t.Run("invokes builder", func(t *testing.T) {
		svc := newTestService(t)
		var got *Service
		err := svc.RegisterMiddleware(MiddlewareRegistration{Builder: func(s *Service) (message.HandlerMiddleware, error) {
			got = s
			return passthrough, nil
		}})
		require.NoError(t, err)
		assert.Same(t, svc, got)
	})

	t.Run("propagates builder error", func(t *testing.T) {
		want := errors.New("builder failed")
		err := newTestService(t).RegisterMiddleware(MiddlewareRegistration{Builder: func(*Service) (message.HandlerMiddleware, error) {
			return nil, want
		}})
		assert.ErrorIs(t, err, want)
	})

	t.Run("skips nil middleware from builder", func(t *testing.T) {
		err := newTestService(t).RegisterMiddleware(MiddlewareRegistration{Builder: func(*Service) (message.HandlerMiddleware, error) {
			return nil, nil
		}})
		assert.NoError(t, err)
	})
}

func TestDefaultMiddlewaresOrder(t *testing.T) {
	t.Parallel()

	var names []string
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{"correlation_id", "log_messages", "tracer", "metrics", "poison_queue", "recoverer"}, names)
}

func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	mw, err := MetricsMiddleware().Builder(&Service{Conf: &configpkg.Config{}})
	require.NoError(t, err)
	assert.Nil(t, mw)
}

func TestMetricsMiddleware_ServesEndpoint(t *testing.T) {
	useTestRegistry(t)
	port := getFreePort(t)

	svc := newTestService(t)
	svc.Conf.MetricsEnabled = true
	svc.Conf.MetricsPort = port
	svc.Conf.PubSubSystem = "test"

	mw, err := MetricsMiddleware().Builder(svc)
	require.NoError(t, err)
	require.NotNil(t, mw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:" + strconv.Itoa(port) + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		body = string(raw)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "pktflow")
}
