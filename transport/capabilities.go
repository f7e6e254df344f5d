package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsAck indicates the backend supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the backend redelivers on negative ack.
	SupportsNack bool

	// SupportsOrdering indicates messages within a queue/partition arrive
	// in publish order.
	SupportsOrdering bool

	// SupportsNativeDLQ indicates the broker can route dead letters
	// itself. When false, dead-letter routing happens at the
	// application level.
	SupportsNativeDLQ bool

	// SupportsPrefetch indicates the backend honors a per-subscription
	// unacked-delivery cap.
	SupportsPrefetch bool

	// SupportsPartitioning indicates the backend shards topics.
	SupportsPartitioning bool

	// MaxMessageSize is the maximum payload in bytes (0 = unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports whether the backend provides
// at-least-once semantics (ack plus redelivery on nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// RequiresDLQEmulation reports whether dead-letter routing must happen at
// the application level.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsOrdering:  true,
		SupportsNativeDLQ: true,
		SupportsPrefetch:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsAck:          true,
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		MaxMessageSize:       1 << 20,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1 << 20,
	}

	JetStreamCapabilities = Capabilities{
		Name:              "jetstream",
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsOrdering:  true,
		SupportsNativeDLQ: true,
		SupportsPrefetch:  true,
		MaxMessageSize:    1 << 20,
	}
)
