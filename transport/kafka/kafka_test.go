package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercora/eventline/transport"
)

type testConfig struct {
	brokers  []string
	consumer string
}

func (c *testConfig) GetBrokerSystem() string   { return TransportName }
func (c *testConfig) GetBrokerURL() string      { return "" }
func (c *testConfig) GetKafkaBrokers() []string { return c.brokers }
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
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsPartitioning)
	assert.True(t, caps.RequiresDLQEmulation())
}

func TestBuild_WithFactories(t *testing.T) {
	origPub := PublisherFactory
	origSub := SubscriberFactory
	defer func() {
		PublisherFactory = origPub
		SubscriberFactory = origSub
	}()

	var gotGroup string
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
		return &stubPublisher{}, nil
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		gotGroup = cfg.ConsumerGroup
		return &stubSubscriber{}, nil
	}

	cfg := &testConfig{
		brokers:  []string{"kafka-1:9092", "kafka-2:9092"},
		consumer: "billing-service",
	}

	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	assert.Equal(t, "billing-service", gotGroup)
}

func TestBuild_PublisherError(t *testing.T) {
	origPub := PublisherFactory
	defer func() { PublisherFactory = origPub }()

	bootErr := errors.New("no reachable brokers")
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, bootErr
	}

	_, err := Build(context.Background(), &testConfig{brokers: []string{"down:9092"}}, watermill.NopLogger{})
	assert.Equal(t, bootErr, err)
}
