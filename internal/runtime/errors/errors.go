// Package errors holds the sentinel errors shared across the eventline runtime.
package errors

import sterrors "errors"

var (
	ErrServiceRequired      = sterrors.New("eventline: event service is required")
	ErrHandlerRequired      = sterrors.New("eventline: handler function is required")
	ErrSubjectRequired      = sterrors.New("eventline: event subject is required")
	ErrConsumerNameRequired = sterrors.New("eventline: consumer name is required")
	ErrPublisherRequired    = sterrors.New("eventline: publisher is required")
	ErrConfigRequired       = sterrors.New("eventline: config is required")
	ErrLoggerRequired       = sterrors.New("eventline: logger is required")
	ErrPayloadRequired      = sterrors.New("eventline: event payload is required")

	// ErrNotConnected is returned by broker-touching calls when the
	// connection manager is not in the Connected state. Callers decide
	// whether to fail the request or queue locally and retry.
	ErrNotConnected = sterrors.New("eventline: broker connection is not established")

	// ErrConnectExhausted is returned when all connection attempts failed.
	// Treat it as fatal at startup; the service must not serve traffic
	// without a working event layer.
	ErrConnectExhausted = sterrors.New("eventline: broker connection attempts exhausted")
)
