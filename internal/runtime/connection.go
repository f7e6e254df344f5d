package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	configpkg "github.com/mercora/eventline/internal/runtime/config"
	errspkg "github.com/mercora/eventline/internal/runtime/errors"
	loggingpkg "github.com/mercora/eventline/internal/runtime/logging"
	transportpkg "github.com/mercora/eventline/transport"
)

const (
	defaultConnectMaxRetries = 5
	defaultConnectRetryDelay = time.Second
	defaultConnectTimeout    = 30 * time.Second
)

// ConnectionManager owns the broker connection of one Service instance.
// It dials with bounded retries, hands out the live transport, and watches
// for connection loss so it can reconnect. Each Service has its own manager;
// nothing here is process-global.
type ConnectionManager struct {
	conf     *configpkg.Config
	logger   loggingpkg.ServiceLogger
	registry *transportpkg.Registry

	mu        sync.RWMutex
	current   transportpkg.Transport
	connected bool
	closed    bool
	done      chan struct{}

	watchCancel context.CancelFunc

	reconnectMu sync.Mutex
	onReconnect []func(transportpkg.Transport)
}

// NewConnectionManager creates a manager for the given config. Call Connect
// before using Channel.
func NewConnectionManager(conf *configpkg.Config, logger loggingpkg.ServiceLogger, registry *transportpkg.Registry) (*ConnectionManager, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if registry == nil {
		registry = transportpkg.DefaultRegistry
	}
	return &ConnectionManager{
		conf:     conf,
		logger:   logger,
		registry: registry,
		done:     make(chan struct{}),
	}, nil
}

// OnReconnect registers a callback invoked with the fresh transport after a
// successful reconnect. Consumers use it to re-establish subscriptions.
func (m *ConnectionManager) OnReconnect(fn func(transportpkg.Transport)) {
	if fn == nil {
		return
	}
	m.reconnectMu.Lock()
	m.onReconnect = append(m.onReconnect, fn)
	m.reconnectMu.Unlock()
}

// Connect establishes the broker connection, retrying with a fixed delay
// between attempts up to the configured attempt limit. It returns
// ErrConnectExhausted once the limit is reached so the caller can fail
// fast instead of hanging.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errspkg.ErrNotConnected
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	tr, err := m.dial(ctx)
	if err != nil {
		return err
	}

	m.adopt(tr)
	return nil
}

func (m *ConnectionManager) dial(ctx context.Context) (transportpkg.Transport, error) {
	maxRetries := m.conf.ConnectMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultConnectMaxRetries
	}
	retryDelay := m.conf.ConnectRetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultConnectRetryDelay
	}
	timeout := m.conf.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	wmLogger := loggingpkg.NewWatermillAdapter(m.logger)

	attempt := 0
	operation := func() (transportpkg.Transport, error) {
		attempt++
		// The timeout caps each attempt, not the whole retry loop.
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		tr, err := m.registry.Build(attemptCtx, m.conf, wmLogger)
		if err != nil {
			m.logger.Info("broker connection attempt failed", loggingpkg.LogFields{
				"attempt": attempt,
				"broker":  m.conf.BrokerSystem,
				"error":   err.Error(),
			})
			return transportpkg.Transport{}, err
		}
		return tr, nil
	}

	tr, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(retryDelay)),
		backoff.WithMaxTries(uint(maxRetries)),
	)
	if err != nil {
		return transportpkg.Transport{}, fmt.Errorf("%w: %d attempts to %s broker: %w",
			errspkg.ErrConnectExhausted, maxRetries, m.conf.BrokerSystem, err)
	}
	return tr, nil
}

// adopt installs the transport and starts the monitor watch.
func (m *ConnectionManager) adopt(tr transportpkg.Transport) {
	m.mu.Lock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	m.current = tr
	m.connected = true

	if mon, ok := any(tr.Subscriber).(transportpkg.Monitor); ok {
		watchCtx, cancel := context.WithCancel(context.Background())
		m.watchCancel = cancel
		go m.watch(watchCtx, mon)
	}
	m.mu.Unlock()
}

// watch blocks until the transport reports connection loss, then attempts
// to reconnect with the same bounded policy used by Connect.
func (m *ConnectionManager) watch(ctx context.Context, mon transportpkg.Monitor) {
	select {
	case <-ctx.Done():
		return
	case <-mon.Closed():
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.mu.Unlock()

	m.logger.Info("broker connection lost, reconnecting", loggingpkg.LogFields{
		"broker": m.conf.BrokerSystem,
	})

	tr, err := m.dial(context.Background())
	if err != nil {
		m.logger.Error("reconnect attempts exhausted", err, loggingpkg.LogFields{
			"broker": m.conf.BrokerSystem,
		})
		return
	}

	m.adopt(tr)

	m.reconnectMu.Lock()
	callbacks := make([]func(transportpkg.Transport), len(m.onReconnect))
	copy(callbacks, m.onReconnect)
	m.reconnectMu.Unlock()

	for _, fn := range callbacks {
		fn(tr)
	}

	m.logger.Info("broker connection re-established", loggingpkg.LogFields{
		"broker": m.conf.BrokerSystem,
	})
}

// Channel returns the live transport, or ErrNotConnected when the manager
// has never connected, lost its connection, or was shut down.
func (m *ConnectionManager) Channel() (transportpkg.Transport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return transportpkg.Transport{}, errspkg.ErrNotConnected
	}
	return m.current, nil
}

// Done returns a channel closed when the manager is shut down for good.
func (m *ConnectionManager) Done() <-chan struct{} {
	return m.done
}

// IsConnected reports whether a live transport is available.
func (m *ConnectionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Disconnect closes the transport and stops the monitor watch. Calling it
// again, or before Connect, is a no-op.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)

	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}

	if !m.connected {
		return nil
	}
	m.connected = false
	return m.current.Close()
}
