package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercora/eventline/transport"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))

	caps := transport.DefaultRegistry.Capabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsAck)
	assert.True(t, caps.SupportsNack)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.SupportsNativeDLQ)
}

func TestBuild(t *testing.T) {
	tr, err := Build(context.Background(), nil, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	assert.Equal(t, tr.Publisher, tr.Subscriber)
}

func TestPubSub_RoundTrip(t *testing.T) {
	ps := New(watermill.NopLogger{})
	defer ps.Close()

	msgs, err := ps.Subscribe(context.Background(), "orders")
	require.NoError(t, err)

	sent := message.NewMessage("m1", []byte(`{"orderId":"O1"}`))
	require.NoError(t, ps.Publish("orders", sent))

	select {
	case got := <-msgs:
		assert.Equal(t, "m1", got.UUID)
		assert.Equal(t, sent.Payload, got.Payload)
		got.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPubSub_Monitor(t *testing.T) {
	ps := New(watermill.NopLogger{})

	select {
	case <-ps.Closed():
		t.Fatal("monitor fired before close")
	default:
	}

	require.NoError(t, ps.Close())

	select {
	case <-ps.Closed():
	case <-time.After(time.Second):
		t.Fatal("monitor did not fire after close")
	}
}

func TestPubSub_Drop(t *testing.T) {
	ps := New(watermill.NopLogger{})

	ps.Drop()

	select {
	case <-ps.Closed():
	case <-time.After(time.Second):
		t.Fatal("monitor did not fire after drop")
	}

	// Close after drop must not panic.
	assert.NoError(t, ps.Close())
}
