// Package channel provides an in-memory transport backed by Go channels.
// It is the backend used by tests and local development; it also implements
// transport.Monitor so connection-loss handling can be exercised without a
// real broker.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/mercora/eventline/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

func init() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new in-memory channel transport.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	ps := New(logger)
	return transport.Transport{
		Publisher:  ps,
		Subscriber: ps,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// PubSub wraps a gochannel pub/sub with a connection monitor.
type PubSub struct {
	*gochannel.GoChannel

	once   sync.Once
	closed chan struct{}
}

// New creates an in-memory pub/sub. Construct one per test; instances share
// nothing.
func New(logger watermill.LoggerAdapter) *PubSub {
	return &PubSub{
		GoChannel: gochannel.NewGoChannel(gochannel.Config{}, logger),
		closed:    make(chan struct{}),
	}
}

var (
	_ message.Publisher  = (*PubSub)(nil)
	_ message.Subscriber = (*PubSub)(nil)
	_ transport.Monitor  = (*PubSub)(nil)
)

// Closed returns a channel that is closed when the transport shuts down or
// a connection drop is simulated.
func (p *PubSub) Closed() <-chan struct{} {
	return p.closed
}

// Drop severs the transport as if the broker connection was lost. The
// connection manager observes this through Closed() and reconnects.
func (p *PubSub) Drop() {
	p.once.Do(func() { close(p.closed) })
	p.GoChannel.Close()
}

// Close shuts the transport down.
func (p *PubSub) Close() error {
	p.once.Do(func() { close(p.closed) })
	return p.GoChannel.Close()
}
