package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/pktflow/internal/runtime/handlers"
	"github.com/drblury/pktflow/internal/runtime/pdu"
)

func TestRegisterMessageHandlerRequiresService(t *testing.T) {
	err := RegisterMessageHandler(nil, MessageHandlerRegistration{})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)
}

func TestRegisterMessageHandlerRegistersHandler(t *testing.T) {
	svc := newTestService(t)
	err := RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "raw",
		ConsumeQueue: "input",
		PublishQueue: "output",
		Handler: func(msg *message.Message) ([]*message.Message, error) {
			return nil, nil
		},
	})
	require.NoError(t, err)

	assert.Contains(t, svc.router.Handlers(), "raw")
	handlers := svc.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, "input", handlers[0].ConsumeQueue)
	assert.Equal(t, "output", handlers[0].PublishQueue)
}

func TestRegisterMessageHandlerWithoutPublishQueue(t *testing.T) {
	svc := newTestService(t)
	err := RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "sink",
		ConsumeQueue: "input",
		Handler:      func(*message.Message) ([]*message.Message, error) { return nil, nil },
	})
	require.NoError(t, err)
	assert.Contains(t, svc.router.Handlers(), "sink")
}

func TestRegisterMessageHandlerValidatesInput(t *testing.T) {
	svc := newTestService(t)
	noop := func(*message.Message) ([]*message.Message, error) { return nil, nil }

	tests := []struct {
		name string
		reg  MessageHandlerRegistration
		err  error
	}{
		{
			name: "missing handler",
			reg:  MessageHandlerRegistration{Name: "test", ConsumeQueue: "queue"},
			err:  errspkg.ErrHandlerRequired,
		},
		{
			name: "missing consume queue",
			reg:  MessageHandlerRegistration{Name: "test", Handler: noop},
			err:  errspkg.ErrConsumeQueueRequired,
		},
		{
			name: "missing name",
			reg:  MessageHandlerRegistration{ConsumeQueue: "queue", Handler: noop},
			err:  errspkg.ErrHandlerNameRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RegisterMessageHandler(svc, tt.reg)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.err.Error(), err.Error())
		})
	}
}

func TestRegisterPacketHandler(t *testing.T) {
	svc := newTestService(t)
	err := RegisterPacketHandler(svc, handlerpkg.PacketHandlerRegistration{
		Name:         "invert",
		ConsumeQueue: "pktflow.rx",
		PublishQueue: "pktflow.tx",
		Handler: func(_ context.Context, in handlerpkg.PacketContext) ([]handlerpkg.PacketOutput, error) {
			return []handlerpkg.PacketOutput{{Pdu: in.Pdu}}, nil
		},
	})
	require.NoError(t, err)
	assert.Contains(t, svc.router.Handlers(), "invert")
}

func TestRegisterPacketHandlerValidation(t *testing.T) {
	assert.ErrorIs(t, RegisterPacketHandler(nil, handlerpkg.PacketHandlerRegistration{}), errspkg.ErrServiceRequired)

	svc := newTestService(t)
	err := RegisterPacketHandler(svc, handlerpkg.PacketHandlerRegistration{Name: "x", ConsumeQueue: "q"})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}

func TestWrapHandlerWithStats(t *testing.T) {
	stats := newHandlerStats(newResourceTracker())
	payload := pdu.Bytes{Data: []byte{1, 2, 3}}
	msg, err := handlerpkg.NewPacketMessage(payload, nil, nil)
	require.NoError(t, err)

	ok := wrapHandlerWithStats(func(*message.Message) ([]*message.Message, error) {
		return []*message.Message{message.NewMessage("a", nil)}, nil
	}, stats, defaultErrorClassifier)
	_, err = ok(msg)
	require.NoError(t, err)

	failing := wrapHandlerWithStats(func(*message.Message) ([]*message.Message, error) {
		return nil, &UndecodablePacketError{Err: errors.New("bad")}
	}, stats, defaultErrorClassifier)
	_, err = failing(msg)
	require.Error(t, err)

	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.EqualValues(t, 2, stats.PacketsProcessed)
	assert.EqualValues(t, 1, stats.PacketsFailed)
	assert.EqualValues(t, 1, stats.PacketsEmitted)
	assert.EqualValues(t, 6, stats.BytesProcessed)
	assert.EqualValues(t, 1, stats.Errors.Decode)
}

func TestPacketSizeFallsBackToPayload(t *testing.T) {
	msg := message.NewMessage("m", []byte("abcd"))
	assert.Equal(t, 4, packetSize(msg))

	msg.Metadata.Set(handlerpkg.MetadataKeyPacketLen, "9")
	assert.Equal(t, 9, packetSize(msg))

	msg.Metadata.Set(handlerpkg.MetadataKeyPacketLen, "-3")
	assert.Equal(t, 4, packetSize(msg))
}
