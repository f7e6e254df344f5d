// Package envelope defines the wire shape of every event exchanged between
// services and the helpers that track delivery attempts and dead-letter
// routing. An envelope is an immutable record created by the emitting service
// at the moment the domain fact becomes true; it is never mutated afterwards.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	idspkg "github.com/mercora/eventline/internal/runtime/ids"
	"github.com/mercora/eventline/internal/runtime/jsoncodec"
)

// Event is the envelope carried on the broker for every domain event.
//
// The correlation ID ties together all events of one saga instance, for
// example one order. Consumers key idempotency on (ID, consumer name).
type Event struct {
	// ID uniquely identifies the event. Generated as a ULID when the
	// envelope is built; redeliveries of the same event keep the same ID.
	ID string `json:"id"`

	// Subject is the registered event type name, e.g. "order-created".
	// It doubles as the broker destination name.
	Subject string `json:"subject"`

	// Version is the schema version of the payload. Consumers reject
	// versions newer than the one they registered.
	Version int `json:"version"`

	// OccurredAt is the producer-side timestamp of the domain fact.
	OccurredAt time.Time `json:"occurredAt"`

	// CorrelationID ties all events of one saga instance together.
	CorrelationID string `json:"correlationId"`

	// Payload holds the subject-specific fields as raw JSON.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope for the given subject, marshalling the payload with
// the shared codec. The event ID and timestamp are assigned here.
func New(subject string, version int, payload any, correlationID string) (Event, error) {
	raw, err := jsoncodec.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal payload for %q: %w", subject, err)
	}

	return Event{
		ID:            idspkg.NewEventID(),
		Subject:       subject,
		Version:       version,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Validate checks that the envelope carries all required fields.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope: id is required")
	}
	if e.Subject == "" {
		return fmt.Errorf("envelope: subject is required")
	}
	if e.Version < 1 {
		return fmt.Errorf("envelope: version must be >= 1, got %d", e.Version)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope: occurredAt is required")
	}
	return nil
}

// DecodePayload unmarshals the payload into the provided pointer.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope: event %s has no payload", e.ID)
	}
	if err := jsoncodec.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("envelope: decode payload of %s: %w", e.ID, err)
	}
	return nil
}

// Marshal serialises the envelope for the broker.
func (e Event) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(e)
}

// Unmarshal parses an envelope off the wire and validates it.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := jsoncodec.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("envelope: parse: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	cloned := e
	if e.Payload != nil {
		cloned.Payload = make(json.RawMessage, len(e.Payload))
		copy(cloned.Payload, e.Payload)
	}
	return cloned
}
