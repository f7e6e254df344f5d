// Package transport defines the broker-facing interfaces of eventline.
// Each backend (rabbitmq, kafka, nats, jetstream, channel) lives in its own
// sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is a publisher and subscriber pair produced by a Builder.
// Publisher and Subscriber may be the same underlying object.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and subscriber, returning the first error.
func (t Transport) Close() error {
	var first error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil {
			first = err
		}
	}
	if t.Subscriber != nil {
		// Same object closes once; a second Close is a no-op for
		// well-behaved watermill implementations.
		if any(t.Subscriber) != any(t.Publisher) {
			if err := t.Subscriber.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Builder creates a transport from config. Builders must not retry on their
// own; the connection manager owns the retry policy.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the narrow view of configuration that transports need.
type Config interface {
	// GetBrokerSystem returns the transport name, e.g. "rabbitmq".
	GetBrokerSystem() string

	// GetBrokerURL returns the broker URL for URL-addressed backends
	// (RabbitMQ, NATS).
	GetBrokerURL() string

	// GetKafkaBrokers returns the Kafka bootstrap broker list.
	GetKafkaBrokers() []string

	// GetConsumerName returns the durable consumer identity of this
	// process. Kafka uses it as the consumer group, JetStream as the
	// durable consumer prefix.
	GetConsumerName() string

	// GetPrefetchLimit caps unacknowledged in-flight deliveries per
	// subscription. Zero means the backend default.
	GetPrefetchLimit() int
}

// Monitor is implemented by transports that can report loss of the broker
// connection. The connection manager watches Closed() to trigger reconnects.
type Monitor interface {
	// Closed returns a channel that is closed when the broker connection
	// is lost or the transport is shut down.
	Closed() <-chan struct{}
}

// CapabilitiesProvider is implemented by transports that report capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
