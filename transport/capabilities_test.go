package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	assert.True(t, JetStreamCapabilities.SupportsReliableDelivery())
	assert.True(t, ChannelCapabilities.SupportsReliableDelivery())

	// Kafka acks via offset commits but has no per-message nack.
	assert.False(t, KafkaCapabilities.SupportsReliableDelivery())
	assert.False(t, NATSCapabilities.SupportsReliableDelivery())
}

func TestCapabilities_RequiresDLQEmulation(t *testing.T) {
	assert.False(t, RabbitMQCapabilities.RequiresDLQEmulation())
	assert.False(t, JetStreamCapabilities.RequiresDLQEmulation())

	assert.True(t, ChannelCapabilities.RequiresDLQEmulation())
	assert.True(t, KafkaCapabilities.RequiresDLQEmulation())
	assert.True(t, NATSCapabilities.RequiresDLQEmulation())
}

func TestCapabilities_Names(t *testing.T) {
	assert.Equal(t, "channel", ChannelCapabilities.Name)
	assert.Equal(t, "rabbitmq", RabbitMQCapabilities.Name)
	assert.Equal(t, "kafka", KafkaCapabilities.Name)
	assert.Equal(t, "nats", NATSCapabilities.Name)
	assert.Equal(t, "jetstream", JetStreamCapabilities.Name)
}
