package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/mercora/eventline/internal/runtime/envelope"
	errspkg "github.com/mercora/eventline/internal/runtime/errors"
	loggingpkg "github.com/mercora/eventline/internal/runtime/logging"
)

// EventHandler is the callback signature for event consumers.
// Return nil to acknowledge, or an error to steer delivery:
//   - nil: acknowledge
//   - envelope.ErrSkip: acknowledge without processing
//   - envelope.ErrDeadLetter (or a *envelope.DeadLetterError): dead-letter now
//   - any other error: retry, then dead-letter once attempts are exhausted
type EventHandler func(ctx context.Context, evt envelope.Event) error

// Emit validates the payload against the schema registry, wraps it in an
// envelope, and publishes it under the subject. It returns the generated
// event ID so callers can log or correlate it.
//
// The subject must be registered before emitting; the envelope carries the
// registered schema version.
func (s *Service) Emit(ctx context.Context, subject string, payload any, correlationID string) (string, error) {
	if s == nil {
		return "", errspkg.ErrServiceRequired
	}
	if subject == "" {
		return "", errspkg.ErrSubjectRequired
	}
	if payload == nil {
		return "", errspkg.ErrPayloadRequired
	}

	version := s.schemas.Version(subject)
	evt, err := envelope.New(subject, version, payload, correlationID)
	if err != nil {
		return "", err
	}

	if err := s.schemas.Validate(subject, evt.Version, evt.Payload); err != nil {
		return "", fmt.Errorf("emit %q: %w", subject, err)
	}

	if err := s.PublishEvent(ctx, evt); err != nil {
		return "", err
	}
	return evt.ID, nil
}

// PublishEvent publishes a pre-built envelope under its subject. Most
// callers should use Emit; this exists for republishing and dead-letter
// tooling that already holds an envelope.
func (s *Service) PublishEvent(ctx context.Context, evt envelope.Event) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if s.publisher == nil {
		return errspkg.ErrPublisherRequired
	}

	msg, err := toWatermillMessage(evt)
	if err != nil {
		return err
	}

	if timeout := s.Conf.PublishTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}

	return s.publisher.Publish(evt.Subject, msg)
}

// OnEvent registers a handler for the subject on behalf of the named
// consumer. The consumer name keys the idempotency ledger: each event runs
// at most once per consumer name, however often the broker redelivers it.
//
// Malformed envelopes and schema violations are dead-lettered without
// invoking the handler. Handler errors are retried in process and
// dead-lettered once the attempt bound is reached.
func (s *Service) OnEvent(subject, consumerName string, handler EventHandler) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if subject == "" {
		return errspkg.ErrSubjectRequired
	}
	if consumerName == "" {
		return errspkg.ErrConsumerNameRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	handlerName := fmt.Sprintf("%s-%s", consumerName, subject)
	stats := newHandlerStats(handlerName, subject, consumerName)

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, &HandlerInfo{
		Name:         handlerName,
		Subject:      subject,
		ConsumerName: consumerName,
		Stats:        stats,
	})
	s.handlersMu.Unlock()

	s.router.AddNoPublisherHandler(
		handlerName,
		subject,
		s.subscriber,
		s.wrapEventHandler(subject, consumerName, handler, stats),
	)

	return nil
}

func (s *Service) wrapEventHandler(subject, consumerName string, handler EventHandler, stats *HandlerStats) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		evt, err := envelope.Unmarshal(msg.Payload)
		if err != nil {
			// Nothing to retry: the bytes will not get better.
			return s.deadLetter(ctx, msg, subject, consumerName, stats, err)
		}

		if err := s.schemas.Validate(evt.Subject, evt.Version, evt.Payload); err != nil {
			return s.deadLetter(ctx, msg, subject, consumerName, stats, err)
		}

		seen, err := s.ledger.Seen(ctx, evt.ID, consumerName)
		if err != nil {
			return fmt.Errorf("ledger lookup for %s: %w", evt.ID, err)
		}
		if seen {
			stats.recordDuplicate()
			s.Logger.Debug("suppressing duplicate delivery", loggingpkg.LogFields{
				"event_id":      evt.ID,
				"subject":       subject,
				"consumer_name": consumerName,
			})
			return nil
		}

		if max := s.Conf.MaxHandlerRetries; max > 0 && envelope.GetAttempt(msg.Metadata) == 0 {
			envelope.SetMaxAttempts(msg.Metadata, max)
		}
		envelope.IncrementAttempt(msg.Metadata)

		start := time.Now()
		handlerErr := handler(ctx, evt)
		stats.recordProcessed(time.Since(start), handlerErr)

		switch envelope.ClassifyError(handlerErr) {
		case envelope.ResultAck:
			inserted, err := s.ledger.Record(ctx, evt.ID, consumerName)
			if err != nil {
				// Without the record an ack would allow a duplicate
				// side effect later; keep the message in flight.
				return fmt.Errorf("ledger record for %s: %w", evt.ID, err)
			}
			if !inserted {
				stats.recordDuplicate()
			}
			return nil

		case envelope.ResultSkip:
			s.Logger.Debug("skipping event", loggingpkg.LogFields{
				"event_id": evt.ID,
				"subject":  subject,
			})
			return nil

		case envelope.ResultDeadLetter:
			return s.deadLetter(ctx, msg, subject, consumerName, stats, handlerErr)

		case envelope.ResultRetry:
			if envelope.ExceedsMaxAttempts(msg.Metadata) {
				return s.deadLetter(ctx, msg, subject, consumerName, stats, handlerErr)
			}
			return handlerErr

		default:
			return handlerErr
		}
	}
}

// deadLetter republishes the message on the subject's dead-letter
// destination and acknowledges the original. The dead-letter copy keeps
// the payload untouched; routing detail goes into metadata.
func (s *Service) deadLetter(ctx context.Context, msg *message.Message, subject, consumerName string, stats *HandlerStats, cause error) error {
	dlqSubject := envelope.DeadLetterSubject(subject, s.Conf.DeadLetterSuffix)

	dlqMsg := message.NewMessage(msg.UUID, msg.Payload)
	for k, v := range msg.Metadata {
		dlqMsg.Metadata.Set(k, v)
	}
	envelope.MarkDeadLetter(dlqMsg.Metadata, subject, consumerName, cause)
	if ctx != nil {
		dlqMsg.SetContext(ctx)
	}

	if err := s.publisher.Publish(dlqSubject, dlqMsg); err != nil {
		// Keep the original in flight rather than dropping the event.
		s.Logger.Error("dead-letter publish failed", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"dlq_subject":  dlqSubject,
		})
		return fmt.Errorf("dead-letter publish to %s: %w", dlqSubject, err)
	}

	stats.recordDeadLetter()
	s.Logger.Info("event dead-lettered", loggingpkg.LogFields{
		"message_uuid":  msg.UUID,
		"subject":       subject,
		"dlq_subject":   dlqSubject,
		"consumer_name": consumerName,
		"attempts":      envelope.GetAttempt(msg.Metadata),
		"error":         errString(cause),
	})
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Typed adapts a payload-typed function into an EventHandler. Payloads that
// fail to decode are dead-lettered, not retried.
func Typed[T any](fn func(ctx context.Context, evt envelope.Event, payload T) error) EventHandler {
	return func(ctx context.Context, evt envelope.Event) error {
		var payload T
		if err := evt.DecodePayload(&payload); err != nil {
			return &envelope.DeadLetterError{Reason: "payload decode failed", Cause: err}
		}
		return fn(ctx, evt, payload)
	}
}

// toWatermillMessage converts an envelope into the broker message. The
// message UUID is the event ID so transports can deduplicate on it.
func toWatermillMessage(evt envelope.Event) (*message.Message, error) {
	payload, err := evt.Marshal()
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(evt.ID, payload)
	if evt.CorrelationID != "" {
		msg.Metadata.Set(envelope.KeyCorrelationID, evt.CorrelationID)
	}
	return msg, nil
}
