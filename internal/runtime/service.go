package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"

	configpkg "github.com/mercora/eventline/internal/runtime/config"
	errspkg "github.com/mercora/eventline/internal/runtime/errors"
	ledgerpkg "github.com/mercora/eventline/internal/runtime/ledger"
	loggingpkg "github.com/mercora/eventline/internal/runtime/logging"
	schemapkg "github.com/mercora/eventline/internal/runtime/schema"
	transportpkg "github.com/mercora/eventline/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators a Service can use.
// Zero values get sensible defaults: an in-memory ledger, an empty schema
// registry, and the default transport registry.
type ServiceDependencies struct {
	// Ledger records processed (event, consumer) pairs for idempotent
	// consumption. Defaults to an in-memory ledger.
	Ledger ledgerpkg.Ledger

	// Schemas is the subject/version registry used to validate inbound
	// and outbound payloads.
	Schemas *schemapkg.Registry

	// TransportRegistry resolves the broker builder. Defaults to the
	// registry the transport sub-packages register into.
	TransportRegistry *transportpkg.Registry

	// Middlewares are appended after the default middleware chain.
	Middlewares []MiddlewareRegistration

	// DisableDefaultMiddlewares skips the default chain when true.
	DisableDefaultMiddlewares bool
}

// Service wires the connection manager, Watermill router, schema registry,
// and idempotency ledger behind the Emit/OnEvent API. Construct one per
// process; instances share nothing.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	conn    *ConnectionManager
	schemas *schemapkg.Registry
	ledger  ledgerpkg.Ledger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service and connects it to the configured broker.
// Register handlers on the returned Service before calling Start.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.Info("creating event service", loggingpkg.LogFields{
		"broker_system": conf.BrokerSystem,
		"consumer_name": conf.ConsumerName,
		"config":        conf,
	})

	s := &Service{
		Conf:    conf,
		Logger:  log,
		schemas: deps.Schemas,
		ledger:  deps.Ledger,
	}
	if s.schemas == nil {
		s.schemas = schemapkg.NewRegistry()
	}
	if s.ledger == nil {
		s.ledger = ledgerpkg.NewMemoryLedger()
	}

	conn, err := NewConnectionManager(conf, log, deps.TransportRegistry)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	s.conn = conn

	s.publisher = &managedPublisher{conn: conn}
	s.subscriber = &managedSubscriber{conn: conn}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("create router: %w", err)
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		conn.Disconnect()
		return nil, err
	}

	return s, nil
}

// Start runs the router until the provided context is cancelled. Listening
// begins here; OnEvent registrations made after Start are not picked up.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Running returns a channel that closes once the router is listening.
// Useful for tests and for delaying readiness probes.
func (s *Service) Running() <-chan struct{} {
	return s.router.Running()
}

// Close shuts down the router and disconnects from the broker.
func (s *Service) Close() error {
	var first error
	if s.router != nil {
		if err := s.router.Close(); err != nil {
			first = err
		}
	}
	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Connection exposes the connection manager for health checks.
func (s *Service) Connection() *ConnectionManager {
	return s.conn
}

// Schemas exposes the schema registry so callers can register subjects.
func (s *Service) Schemas() *schemapkg.Registry {
	return s.schemas
}

// Handlers returns a snapshot of the registered handlers and their stats.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]*HandlerInfo, len(s.handlers))
	copy(out, s.handlers)
	return out
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// RegisterHTTPHandler mounts a handler on the HTTP server for the given
// port. Servers start with the Service.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
