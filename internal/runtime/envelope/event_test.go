package envelope

import (
	"errors"
	"testing"
	"time"
)

type orderPayload struct {
	OrderID string `json:"orderId"`
	Total   int64  `json:"total"`
}

func TestNew(t *testing.T) {
	t.Parallel()

	evt, err := New("order-created", 1, orderPayload{OrderID: "O1", Total: 4200}, "O1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.ID == "" {
		t.Fatal("expected generated event id")
	}
	if evt.Subject != "order-created" {
		t.Fatalf("unexpected subject: %s", evt.Subject)
	}
	if evt.Version != 1 {
		t.Fatalf("unexpected version: %d", evt.Version)
	}
	if evt.CorrelationID != "O1" {
		t.Fatalf("unexpected correlation id: %s", evt.CorrelationID)
	}
	if evt.OccurredAt.IsZero() {
		t.Fatal("expected occurredAt to be set")
	}

	var decoded orderPayload
	if err := evt.DecodePayload(&decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.OrderID != "O1" || decoded.Total != 4200 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	evt, err := New("payment-requested", 2, orderPayload{OrderID: "O2"}, "O2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := evt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.ID != evt.ID || parsed.Subject != evt.Subject || parsed.Version != evt.Version {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, evt)
	}
	if parsed.CorrelationID != "O2" {
		t.Fatalf("correlation id lost: %+v", parsed)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Event{
		ID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Subject:    "order-created",
		Version:    1,
		OccurredAt: time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing id", func(e *Event) { e.ID = "" }},
		{"missing subject", func(e *Event) { e.Subject = "" }},
		{"zero version", func(e *Event) { e.Version = 0 }},
		{"missing occurredAt", func(e *Event) { e.OccurredAt = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := valid
			tc.mutate(&evt)
			if err := evt.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
	if _, err := Unmarshal([]byte(`{"subject":"x"}`)); err == nil {
		t.Fatal("expected error for incomplete envelope")
	}
}

func TestClone(t *testing.T) {
	t.Parallel()

	evt, err := New("order-created", 1, orderPayload{OrderID: "O3"}, "O3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cloned := evt.Clone()
	cloned.Payload[0] = 'X'
	if evt.Payload[0] == 'X' {
		t.Fatal("clone shares payload backing array")
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want HandlerResult
	}{
		{"nil acks", nil, ResultAck},
		{"skip", ErrSkip, ResultSkip},
		{"dead letter", ErrDeadLetter, ResultDeadLetter},
		{"unprocessable", ErrUnprocessable, ResultDeadLetter},
		{"dead letter with reason", ErrDeadLetterWithReason("bad state", nil), ResultDeadLetter},
		{"wrapped dead letter", errors.Join(errors.New("ctx"), ErrDeadLetter), ResultDeadLetter},
		{"plain error retries", errors.New("db down"), ResultRetry},
		{"explicit retry", ErrRetry, ResultRetry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyError(tc.err); got != tc.want {
				t.Fatalf("ClassifyError(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
