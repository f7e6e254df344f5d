package envelope

import (
	"errors"
	"fmt"
)

// Handler control errors. A listener handler returns one of these (or wraps
// one) to steer the message lifecycle after execution.
var (
	// ErrRetry signals that the message should be redelivered. The retry
	// middleware applies exponential backoff up to the configured bound.
	ErrRetry = errors.New("eventline: retry message")

	// ErrDeadLetter signals that the message should be routed to the
	// dead-letter destination without further retry attempts.
	ErrDeadLetter = errors.New("eventline: send to dead-letter destination")

	// ErrSkip signals that the message should be acknowledged without
	// processing. Used for intentionally ignored messages.
	ErrSkip = errors.New("eventline: skip message")

	// ErrUnprocessable marks a structurally invalid message. Retrying
	// cannot fix it, so it goes straight to the dead-letter destination.
	ErrUnprocessable = errors.New("eventline: unprocessable message")
)

// DeadLetterError routes a message to the dead-letter destination with a
// recorded reason.
type DeadLetterError struct {
	Reason string
	Cause  error
}

// ErrDeadLetterWithReason builds a DeadLetterError.
func ErrDeadLetterWithReason(reason string, cause error) *DeadLetterError {
	return &DeadLetterError{Reason: reason, Cause: cause}
}

func (e *DeadLetterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("eventline: dead letter (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("eventline: dead letter (%s)", e.Reason)
}

func (e *DeadLetterError) Unwrap() error { return e.Cause }

// Is implements errors.Is so DeadLetterError matches ErrDeadLetter.
func (e *DeadLetterError) Is(target error) bool {
	if target == ErrDeadLetter {
		return true
	}
	_, ok := target.(*DeadLetterError)
	return ok
}

// HandlerResult is the classified outcome of processing an event.
type HandlerResult int

const (
	// ResultAck acknowledges the message.
	ResultAck HandlerResult = iota

	// ResultRetry redelivers the message via the retry middleware.
	ResultRetry

	// ResultDeadLetter routes the message to the dead-letter destination.
	ResultDeadLetter

	// ResultSkip acknowledges without processing.
	ResultSkip
)

// ClassifyError maps a handler error onto the action the listener takes.
// Unknown errors default to retry: handler failures are the only class
// eligible for transient redelivery.
func ClassifyError(err error) HandlerResult {
	if err == nil {
		return ResultAck
	}
	if errors.Is(err, ErrSkip) {
		return ResultSkip
	}
	if errors.Is(err, ErrDeadLetter) || errors.Is(err, ErrUnprocessable) {
		return ResultDeadLetter
	}
	return ResultRetry
}

// IsRetryable reports whether the error should trigger redelivery.
func IsRetryable(err error) bool {
	return err != nil && ClassifyError(err) == ResultRetry
}

// ShouldDeadLetter reports whether the error routes the message to the
// dead-letter destination.
func ShouldDeadLetter(err error) bool {
	return err != nil && ClassifyError(err) == ResultDeadLetter
}
