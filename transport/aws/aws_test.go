package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/pktflow/internal/runtime/config"
	"github.com/drblury/pktflow/transport"
	"github.com/drblury/pktflow/transport/transporttest"
)

type captured struct {
	accountID, region string
	pubCfg            sns.PublisherConfig
	sqsCfg            sqs.SubscriberConfig
	pub               *transporttest.Publisher
	sub               *transporttest.Subscriber
}

func install(t *testing.T, loadErr, pubErr, subErr error) *captured {
	t.Helper()
	origLoader, origResolver, origPub, origSub := ConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		ConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory = origLoader, origResolver, origPub, origSub
	})

	c := &captured{pub: &transporttest.Publisher{}, sub: &transporttest.Subscriber{}}
	ConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		if loadErr != nil {
			return aws.Config{}, loadErr
		}
		return aws.Config{Region: "eu-central-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		c.accountID, c.region = accountID, region
		return &sns.GenerateArnTopicResolver{}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		c.pubCfg = cfg
		if pubErr != nil {
			return nil, pubErr
		}
		return c.pub, nil
	}
	SubscriberFactory = func(_ sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		c.sqsCfg = sqsCfg
		if subErr != nil {
			return nil, subErr
		}
		return c.sub, nil
	}
	return c
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()
	assert.Equal(t, Capabilities(), transport.GetCapabilities(TransportName))
}

func TestBuild(t *testing.T) {
	c := install(t, nil, nil, nil)

	tr, err := Build(context.Background(), &config.Config{AWSAccountID: "123456789012"}, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Equal(t, "123456789012", c.accountID)
	assert.Equal(t, "eu-central-1", c.region, "region falls back to the loaded config")
	assert.Nil(t, c.pubCfg.AWSConfig.BaseEndpoint)
	assert.Empty(t, c.sqsCfg.OptFns)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestBuildCustomEndpoint(t *testing.T) {
	c := install(t, nil, nil, nil)

	cfg := &config.Config{AWSRegion: "us-east-1", AWSEndpoint: "http://localhost:4566"}
	_, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Equal(t, localstackAccountID, c.accountID)
	assert.Equal(t, "us-east-1", c.region)
	require.NotNil(t, c.pubCfg.AWSConfig.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *c.pubCfg.AWSConfig.BaseEndpoint)
	assert.Len(t, c.pubCfg.OptFns, 1)
	assert.Len(t, c.sqsCfg.OptFns, 1)
}

func TestBuildErrors(t *testing.T) {
	want := errors.New("boom")

	c := install(t, want, nil, nil)
	_, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, want)

	install(t, nil, want, nil)
	_, err = Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, want)

	c = install(t, nil, nil, want)
	_, err = Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 1, c.pub.Closed)

	_, err = Build(context.Background(), &config.Config{AWSEndpoint: "://bad"}, watermill.NopLogger{})
	assert.Error(t, err)
}

func TestResolveAccountAndRegion(t *testing.T) {
	log := watermill.NopLogger{}

	id, region := resolveAccountAndRegion(&config.Config{AWSAccountID: "'123456789012'", AWSRegion: "us-west-2"}, "x", log)
	assert.Equal(t, "123456789012", id)
	assert.Equal(t, "us-west-2", region)

	id, _ = resolveAccountAndRegion(&config.Config{AWSAccountID: "42", AWSEndpoint: "http://localhost:4566"}, "x", log)
	assert.Equal(t, localstackAccountID, id)

	id, _ = resolveAccountAndRegion(&config.Config{AWSAccountID: "42"}, "x", log)
	assert.Equal(t, "42", id, "real endpoints keep the configured id")
}

func TestPayloadIsBase64OnTheWire(t *testing.T) {
	inner := &transporttest.Publisher{}
	pub := base64Publisher{Publisher: inner}

	msg := message.NewMessage("uuid-1", []byte{0x00, 0xff, 0x10})
	require.NoError(t, pub.Publish("pktflow.tx", msg))

	sent := inner.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x00, 0xff, 0x10}), string(sent[0].Payload))
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, []byte(msg.Payload), "caller message is untouched")
}

type chanSubscriber struct {
	transporttest.Subscriber
	ch chan *message.Message
}

func (s *chanSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return s.ch, nil
}

func TestSubscriberDecodesAndDropsForeignBodies(t *testing.T) {
	inner := &chanSubscriber{ch: make(chan *message.Message, 2)}
	sub := base64Subscriber{Subscriber: inner, logger: watermill.NopLogger{}}

	foreign := message.NewMessage("x", []byte("{not base64}"))
	packet := message.NewMessage("y", []byte(base64.StdEncoding.EncodeToString([]byte{0x45, 0x00})))
	inner.ch <- foreign
	inner.ch <- packet
	close(inner.ch)

	out, err := sub.Subscribe(context.Background(), "pktflow.rx")
	require.NoError(t, err)

	select {
	case got := <-out:
		assert.Equal(t, "y", got.UUID)
		assert.Equal(t, []byte{0x45, 0x00}, []byte(got.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("packet not delivered")
	}

	select {
	case <-foreign.Acked():
	default:
		t.Fatal("foreign body was not acked")
	}
}
