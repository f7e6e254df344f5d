package eventline

import (
	"context"

	runtimepkg "github.com/mercora/eventline/internal/runtime"
	configpkg "github.com/mercora/eventline/internal/runtime/config"
	"github.com/mercora/eventline/internal/runtime/envelope"
	errspkg "github.com/mercora/eventline/internal/runtime/errors"
	idspkg "github.com/mercora/eventline/internal/runtime/ids"
	"github.com/mercora/eventline/internal/runtime/jsoncodec"
	ledgerpkg "github.com/mercora/eventline/internal/runtime/ledger"
	loggingpkg "github.com/mercora/eventline/internal/runtime/logging"
	metadatapkg "github.com/mercora/eventline/internal/runtime/metadata"
	schemapkg "github.com/mercora/eventline/internal/runtime/schema"
	transportpkg "github.com/mercora/eventline/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ConnectionManager   = runtimepkg.ConnectionManager

	// Event envelope
	Event           = envelope.Event
	EventHandler    = runtimepkg.EventHandler
	DeadLetterError = envelope.DeadLetterError
	HandlerResult   = envelope.HandlerResult

	// Schema registry
	SchemaRegistry          = schemapkg.Registry
	UnknownSubjectError     = schemapkg.UnknownSubjectError
	UnsupportedVersionError = schemapkg.UnsupportedVersionError
	InvalidPayloadError     = schemapkg.InvalidPayloadError

	// Idempotency ledger
	Ledger         = ledgerpkg.Ledger
	MemoryLedger   = ledgerpkg.MemoryLedger
	PostgresLedger = ledgerpkg.PostgresLedger

	// Middleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	// Handler introspection
	HandlerInfo  = runtimepkg.HandlerInfo
	HandlerStats = runtimepkg.HandlerStats

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Transport plumbing
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportMonitor      = transportpkg.Monitor
	TransportCapabilities = transportpkg.Capabilities
)

var (
	NewService           = runtimepkg.NewService
	NewConnectionManager = runtimepkg.NewConnectionManager
	ValidateConfig       = configpkg.ValidateConfig

	NewSchemaRegistry = schemapkg.NewRegistry
	NewMemoryLedger   = ledgerpkg.NewMemoryLedger
	NewPostgresLedger = ledgerpkg.NewPostgres

	NewEvent       = envelope.New
	UnmarshalEvent = envelope.Unmarshal
	NewEventID     = idspkg.NewEventID

	// Delivery metadata helpers
	GetAttempt         = envelope.GetAttempt
	GetMaxAttempts     = envelope.GetMaxAttempts
	SetMaxAttempts     = envelope.SetMaxAttempts
	ExceedsMaxAttempts = envelope.ExceedsMaxAttempts
	IsDeadLetter       = envelope.IsDeadLetter
	OriginalSubject    = envelope.OriginalSubject
	DeadLetterSubject  = envelope.DeadLetterSubject

	// Handler control errors and classification
	ErrRetry                = envelope.ErrRetry
	ErrDeadLetter           = envelope.ErrDeadLetter
	ErrSkip                 = envelope.ErrSkip
	ErrUnprocessable        = envelope.ErrUnprocessable
	ErrDeadLetterWithReason = envelope.ErrDeadLetterWithReason
	ClassifyError           = envelope.ClassifyError
	IsRetryable             = envelope.IsRetryable
	ShouldDeadLetter        = envelope.ShouldDeadLetter

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	NewMetadata = metadatapkg.New

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	// Transport registry. Import individual transports for their side
	// effect: _ "github.com/mercora/eventline/transport/channel"
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrSubjectRequired      = errspkg.ErrSubjectRequired
	ErrConsumerNameRequired = errspkg.ErrConsumerNameRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrPayloadRequired      = errspkg.ErrPayloadRequired
	ErrNotConnected         = errspkg.ErrNotConnected
	ErrConnectExhausted     = errspkg.ErrConnectExhausted
)

const (
	ResultAck        = envelope.ResultAck
	ResultRetry      = envelope.ResultRetry
	ResultDeadLetter = envelope.ResultDeadLetter
	ResultSkip       = envelope.ResultSkip

	DefaultMaxAttempts = envelope.DefaultMaxAttempts
)

// Typed adapts a payload-typed function into an EventHandler. Payloads
// that fail to decode are dead-lettered, not retried.
func Typed[T any](fn func(ctx context.Context, evt Event, payload T) error) EventHandler {
	return runtimepkg.Typed(fn)
}
