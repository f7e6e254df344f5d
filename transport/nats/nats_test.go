package nats

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercora/eventline/transport"
)

type testConfig struct {
	url      string
	consumer string
}

func (c *testConfig) GetBrokerSystem() string   { return TransportName }
func (c *testConfig) GetBrokerURL() string      { return c.url }
func (c *testConfig) GetKafkaBrokers() []string { return nil }
func (c *testConfig) GetConsumerName() string   { return c.consumer }
func (c *testConfig) GetPrefetchLimit() int     { return 0 }

type stubPublisher struct{}

func (s *stubPublisher) Publish(string, ...*message.Message) error { return nil }
func (s *stubPublisher) Close() error                              { return nil }

type stubSubscriber struct{}

func (s *stubSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}
func (s *stubSubscriber) Close() error { return nil }

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))

	caps := transport.DefaultRegistry.Capabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.False(t, caps.SupportsReliableDelivery())
}

func TestBuild_WithFactories(t *testing.T) {
	origPub := PublisherFactory
	origSub := SubscriberFactory
	defer func() {
		PublisherFactory = origPub
		SubscriberFactory = origSub
	}()

	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		return &stubPublisher{}, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, "inventory-service", cfg.QueueGroupPrefix)
		return &stubSubscriber{}, nil
	}

	cfg := &testConfig{url: "nats://localhost:4222", consumer: "inventory-service"}

	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}
