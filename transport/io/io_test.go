package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/pktflow/internal/runtime/config"
	"github.com/drblury/pktflow/transport"
)

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no packet received")
		return nil
	}
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, Capabilities(), caps)
	assert.True(t, caps.PreservesStreamOrder())
}

func TestBuildUsesConfiguredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	tr, err := Build(context.Background(), &config.Config{IOFile: path}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.Equal(t, path, tr.Publisher.(*Publisher).filePath)
	assert.Equal(t, path, tr.Subscriber.(*Subscriber).filePath)
}

func TestReplayKeepsOrderAndMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	pub := NewPublisher(path, nil)

	first := message.NewMessage("a", []byte{0x01, 0x02})
	first.Metadata.Set(transport.StreamIDMetadataKey, "serial0")
	second := message.NewMessage("b", []byte{0x03})
	other := message.NewMessage("c", []byte{0xff})
	require.NoError(t, pub.Publish("pktflow.rx", first, second))
	require.NoError(t, pub.Publish("pktflow.tx", other))

	sub := NewSubscriber(path, nil)
	t.Cleanup(func() { _ = sub.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := sub.Subscribe(ctx, "pktflow.rx")
	require.NoError(t, err)

	got := receive(t, ch)
	assert.Equal(t, "a", got.UUID)
	assert.Equal(t, []byte{0x01, 0x02}, []byte(got.Payload))
	assert.Equal(t, "serial0", got.Metadata.Get(transport.StreamIDMetadataKey))

	got = receive(t, ch)
	assert.Equal(t, "b", got.UUID)
}

func TestFollowsAppendsAndSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o600))

	sub := NewSubscriber(path, nil)
	t.Cleanup(func() { _ = sub.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := sub.Subscribe(ctx, "pktflow.rx")
	require.NoError(t, err)

	require.NoError(t, NewPublisher(path, nil).Publish("pktflow.rx", message.NewMessage("late", []byte{0x45})))
	assert.Equal(t, "late", receive(t, ch).UUID)
}

func TestSubscriptionEndsOnCancelAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	sub := NewSubscriber(path, nil)
	ch, err := sub.Subscribe(ctx, "pktflow.rx")
	require.NoError(t, err)
	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	ch, err = sub.Subscribe(context.Background(), "pktflow.rx")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
