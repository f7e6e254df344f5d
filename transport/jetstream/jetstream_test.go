package jetstream

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercora/eventline/transport"
)

// startTestJetStream starts an embedded NATS server with JetStream enabled
// and returns its client URL.
func startTestJetStream(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))

	caps := transport.DefaultRegistry.Capabilities(TransportName)
	assert.Equal(t, "jetstream", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.True(t, caps.SupportsNativeDLQ)
	assert.True(t, caps.SupportsPrefetch)
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		cfg := Config{}.withDefaults()

		assert.Equal(t, DefaultStreamName, cfg.StreamName)
		assert.Equal(t, "eventline", cfg.ConsumerName)
		assert.Equal(t, DefaultAckWait, cfg.AckWait)
		assert.Equal(t, DefaultMaxAckPending, cfg.MaxAckPending)
		assert.Equal(t, 1, cfg.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			URL:           "nats://localhost:4222",
			StreamName:    "ORDERS",
			ConsumerName:  "order-service",
			AckWait:       time.Minute,
			MaxAckPending: 16,
			Replicas:      3,
		}.withDefaults()

		assert.Equal(t, "ORDERS", cfg.StreamName)
		assert.Equal(t, "order-service", cfg.ConsumerName)
		assert.Equal(t, time.Minute, cfg.AckWait)
		assert.Equal(t, 16, cfg.MaxAckPending)
		assert.Equal(t, 3, cfg.Replicas)
	})
}

func TestTransport_RoundTrip(t *testing.T) {
	url := startTestJetStream(t)

	tr, err := New(Config{
		URL:          url,
		StreamName:   "TESTSTREAM",
		ConsumerName: "order-service",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := tr.Subscribe(ctx, "order-created")
	require.NoError(t, err)

	sent := message.NewMessage("ev-1", []byte(`{"orderId":"O1"}`))
	sent.Metadata.Set("correlation_id", "corr-1")
	require.NoError(t, tr.Publish("order-created", sent))

	select {
	case got := <-msgs:
		assert.Equal(t, "ev-1", got.UUID)
		assert.Equal(t, sent.Payload, got.Payload)
		assert.Equal(t, "corr-1", got.Metadata.Get("correlation_id"))
		got.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestTopicToDurable_SanitizesDots(t *testing.T) {
	tr := &Transport{config: Config{ConsumerName: "order-service"}.withDefaults()}

	assert.Equal(t, "order-service_order-created", tr.topicToDurable("order-created"))
	assert.Equal(t, "order-service_order-created_dead", tr.topicToDurable("order-created.dead"))
}

func TestTransport_SubscribesDeadLetterTopic(t *testing.T) {
	url := startTestJetStream(t)

	tr, err := New(Config{
		URL:          url,
		StreamName:   "TESTSTREAM",
		ConsumerName: "order-service",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The server rejects durable consumer names containing dots, so this
	// only works when the topic is sanitized.
	msgs, err := tr.Subscribe(ctx, "order-created.dead")
	require.NoError(t, err)

	require.NoError(t, tr.Publish("order-created.dead", message.NewMessage("ev-dead", []byte(`{}`))))

	select {
	case got := <-msgs:
		assert.Equal(t, "ev-dead", got.UUID)
		got.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dead-letter message")
	}
}

func TestTransport_RedeliversOnNack(t *testing.T) {
	url := startTestJetStream(t)

	tr, err := New(Config{
		URL:          url,
		StreamName:   "TESTSTREAM",
		ConsumerName: "order-service",
		AckWait:      2 * time.Second,
	}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := tr.Subscribe(ctx, "payment-requested")
	require.NoError(t, err)

	require.NoError(t, tr.Publish("payment-requested", message.NewMessage("ev-2", []byte(`{}`))))

	select {
	case got := <-msgs:
		got.Nack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	select {
	case got := <-msgs:
		assert.Equal(t, "ev-2", got.UUID)
		got.Ack()
	case <-time.After(10 * time.Second):
		t.Fatal("nacked message was not redelivered")
	}
}

func TestTransport_Monitor(t *testing.T) {
	url := startTestJetStream(t)

	tr, err := New(Config{URL: url}, watermill.NopLogger{})
	require.NoError(t, err)

	select {
	case <-tr.Closed():
		t.Fatal("monitor fired before close")
	default:
	}

	require.NoError(t, tr.Close())

	select {
	case <-tr.Closed():
	case <-time.After(time.Second):
		t.Fatal("monitor did not fire after close")
	}
}

func TestTransport_PublishAfterClose(t *testing.T) {
	url := startTestJetStream(t)

	tr, err := New(Config{URL: url}, watermill.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	err = tr.Publish("order-created", message.NewMessage("ev-3", []byte(`{}`)))
	assert.Error(t, err)
}
