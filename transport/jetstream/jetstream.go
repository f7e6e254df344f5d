// Package jetstream provides a NATS JetStream transport for eventline.
// Unlike NATS Core this backend persists messages and redelivers
// unacknowledged ones, giving the at-least-once guarantee the listener
// relies on.
package jetstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/mercora/eventline/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "jetstream"

const (
	// DefaultStreamName is the stream holding all eventline subjects.
	DefaultStreamName = "EVENTLINE"

	// DefaultAckWait is how long the server waits for an ack before
	// redelivering.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAckPending caps unacknowledged in-flight deliveries per
	// consumer when no prefetch limit is configured.
	DefaultMaxAckPending = 64

	headerMessageUUID = "El-Message-Uuid"
)

func init() {
	transport.Register(TransportName, Build, transport.JetStreamCapabilities)
}

// Build creates a new JetStream transport from config.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{
		URL:           cfg.GetBrokerURL(),
		ConsumerName:  cfg.GetConsumerName(),
		MaxAckPending: cfg.GetPrefetchLimit(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.JetStreamCapabilities
}

// Config holds JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream to publish into. Defaults to
	// DefaultStreamName.
	StreamName string

	// ConsumerName is the durable consumer identity of this process.
	// Replicas sharing a name share the subscription cursor.
	ConsumerName string

	// AckWait is how long the server waits before redelivering an
	// unacknowledged message.
	AckWait time.Duration

	// MaxAckPending caps in-flight unacknowledged deliveries per
	// consumer.
	MaxAckPending int

	// Replicas is the number of stream replicas.
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "eventline"
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = DefaultMaxAckPending
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport implements message.Publisher, message.Subscriber and
// transport.Monitor on top of JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subMu         sync.Mutex
	subscriptions []*nats.Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

var (
	_ message.Publisher  = (*Transport)(nil)
	_ message.Subscriber = (*Transport)(nil)
	_ transport.Monitor  = (*Transport)(nil)
)

// New connects to NATS and ensures the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()

	t := &Transport{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	nc, err := nats.Connect(cfg.URL,
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) {
			t.closeOnce.Do(func() { close(t.closed) })
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect: %w", err)
	}
	t.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: context: %w", err)
	}
	t.js = js

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  t.config.Replicas,
	}

	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			return fmt.Errorf("jetstream: ensure stream %q: %w", t.config.StreamName, err)
		}
	}
	return nil
}

// Closed returns a channel closed when the NATS connection is lost or the
// transport is shut down.
func (t *Transport) Closed() <-chan struct{} {
	return t.closed
}

// Publish publishes messages to the stream, one subject per topic.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	select {
	case <-t.closed:
		return fmt.Errorf("jetstream: transport is closed")
	default:
	}

	subject := t.topicToSubject(topic)

	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(headerMessageUUID, msg.UUID)

		if _, err := t.js.PublishMsg(&nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}); err != nil {
			return fmt.Errorf("jetstream: publish to %s: %w", subject, err)
		}
	}

	return nil
}

// Subscribe creates a durable pull consumer for the topic and returns its
// delivery channel. The consumer name combines the process identity with
// the topic, so each (service, subject) pair has its own cursor.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-t.closed:
		return nil, fmt.Errorf("jetstream: transport is closed")
	default:
	}

	subject := t.topicToSubject(topic)
	durable := t.topicToDurable(topic)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       t.config.AckWait,
		MaxAckPending: t.config.MaxAckPending,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("jetstream: create consumer %q: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, fmt.Errorf("jetstream: subscribe to %s: %w", subject, err)
	}

	t.subMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.subMu.Unlock()

	output := make(chan *message.Message)
	go t.fetchLoop(ctx, sub, output, topic)

	return output, nil
}

func (t *Transport) fetchLoop(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		default:
		}

		batch := t.config.MaxAckPending
		if batch > 16 {
			batch = 16
		}

		msgs, err := sub.Fetch(batch, nats.MaxWait(time.Second))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			if t.logger != nil {
				t.logger.Error("fetch failed", err, watermill.LogFields{"topic": topic})
			}
			select {
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, natsMsg := range msgs {
			if !t.deliver(ctx, natsMsg, output) {
				return
			}
		}
	}
}

// deliver hands one message to the consumer and waits for its verdict.
// Returns false when the subscription should stop.
func (t *Transport) deliver(ctx context.Context, natsMsg *nats.Msg, output chan<- *message.Message) bool {
	wmMsg := t.toWatermill(natsMsg)

	select {
	case output <- wmMsg:
	case <-ctx.Done():
		return false
	case <-t.closed:
		return false
	}

	select {
	case <-wmMsg.Acked():
		if err := natsMsg.Ack(); err != nil && t.logger != nil {
			t.logger.Error("ack failed", err, nil)
		}
	case <-wmMsg.Nacked():
		if err := natsMsg.Nak(); err != nil && t.logger != nil {
			t.logger.Error("nak failed", err, nil)
		}
	case <-ctx.Done():
		return false
	case <-t.closed:
		return false
	}
	return true
}

func (t *Transport) toWatermill(natsMsg *nats.Msg) *message.Message {
	uuid := natsMsg.Header.Get(headerMessageUUID)
	if uuid == "" {
		uuid = watermill.NewUUID()
	}

	wmMsg := message.NewMessage(uuid, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == headerMessageUUID || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}
	return wmMsg
}

func (t *Transport) topicToSubject(topic string) string {
	return t.config.StreamName + "." + topic
}

func (t *Transport) topicToDurable(topic string) string {
	// JetStream durable names reject dots; dead-letter topics carry a
	// ".dead" suffix, so map dots to underscores.
	return t.config.ConsumerName + "_" + strings.ReplaceAll(topic, ".", "_")
}

// Close unsubscribes everything and closes the NATS connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		_ = sub.Unsubscribe()
	}
	t.subscriptions = nil
	t.subMu.Unlock()

	t.nc.Close()
	return nil
}
