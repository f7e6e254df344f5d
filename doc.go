// Package eventline is the asynchronous event-messaging layer for a
// multi-service platform. It wires a Watermill router, a broker connection
// manager with bounded retry and automatic reconnect, a versioned schema
// registry, and an idempotency ledger behind two calls: Emit publishes a
// validated event envelope, OnEvent registers a durable, deduplicated,
// retry-bounded handler for a subject.
//
// Services construct one Service per process from Config, register their
// subjects in the schema registry, attach handlers, and call Start. Events
// travel as immutable envelopes (id, subject, version, occurredAt,
// correlationId, payload); delivery bookkeeping such as attempt counts and
// dead-letter marks lives in broker message metadata, never in the
// envelope itself.
//
// # Transports
//
// The broker is selected by Config.BrokerSystem:
//   - channel: in-memory Go channels for tests and demos
//   - rabbitmq: AMQP durable pub/sub with per-consumer queues and QoS
//   - kafka: consumer groups keyed by the consumer name
//   - nats: NATS core (fire-and-forget, no redelivery)
//   - jetstream: NATS JetStream with durable pull consumers and acks
//
// Transports register themselves; import the ones a binary needs for
// their side effect.
//
// # Delivery semantics
//
// Delivery is at-least-once. Consumers stay correct under redelivery
// because every handler runs behind the idempotency ledger: one processed
// record per (event id, consumer name), checked before and recorded after
// the handler. Handler errors retry in process with exponential backoff up
// to Config.MaxHandlerRetries, then the message moves to the subject's
// dead-letter destination. Malformed envelopes and unknown or
// too-new schema versions dead-letter immediately without reaching the
// handler.
//
// # Saga coordinators
//
// The saga packages build the order-fulfillment workflow on top of this
// layer: saga/orders owns the order state machine, saga/inventory reserves
// and releases stock, saga/payments charges through a gateway. They
// communicate only through events and reach exactly one terminal state
// per order.
package eventline
