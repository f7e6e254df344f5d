package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// managedPublisher resolves the live transport on every publish so that
// handlers keep working across reconnects without re-registration.
type managedPublisher struct {
	conn *ConnectionManager
}

func (p *managedPublisher) Publish(topic string, messages ...*message.Message) error {
	tr, err := p.conn.Channel()
	if err != nil {
		return err
	}
	return tr.Publisher.Publish(topic, messages...)
}

// Close is a no-op; the connection manager owns transport lifetime.
func (p *managedPublisher) Close() error { return nil }

// managedSubscriber bridges the router to the connection manager. Each
// Subscribe keeps one long-lived output channel; when the underlying
// delivery channel closes because the connection dropped, it resubscribes
// on the fresh transport and keeps forwarding. The router never notices.
type managedSubscriber struct {
	conn *ConnectionManager
}

const resubscribePollInterval = 100 * time.Millisecond

func (s *managedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	tr, err := s.conn.Channel()
	if err != nil {
		return nil, err
	}
	in, err := tr.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	go s.forward(ctx, topic, in, out)
	return out, nil
}

func (s *managedSubscriber) forward(ctx context.Context, topic string, in <-chan *message.Message, out chan<- *message.Message) {
	defer close(out)

	for {
		for msg := range in {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			case <-s.conn.Done():
				return
			}
		}

		// Delivery channel closed. Either we are shutting down or the
		// connection dropped and the manager is reconnecting.
		next, ok := s.resubscribe(ctx, topic)
		if !ok {
			return
		}
		in = next
	}
}

func (s *managedSubscriber) resubscribe(ctx context.Context, topic string) (<-chan *message.Message, bool) {
	ticker := time.NewTicker(resubscribePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-s.conn.Done():
			return nil, false
		case <-ticker.C:
		}

		tr, err := s.conn.Channel()
		if err != nil {
			continue
		}
		in, err := tr.Subscriber.Subscribe(ctx, topic)
		if err != nil {
			continue
		}
		return in, true
	}
}

// Close is a no-op; the connection manager owns transport lifetime.
func (s *managedSubscriber) Close() error { return nil }

var (
	_ message.Publisher  = (*managedPublisher)(nil)
	_ message.Subscriber = (*managedSubscriber)(nil)
)
