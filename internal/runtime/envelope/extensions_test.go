package envelope

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestAttemptTracking(t *testing.T) {
	t.Parallel()

	md := message.Metadata{}
	if GetAttempt(md) != 0 {
		t.Fatal("expected zero attempts on fresh metadata")
	}

	for want := 1; want <= 3; want++ {
		if got := IncrementAttempt(md); got != want {
			t.Fatalf("IncrementAttempt = %d, want %d", got, want)
		}
	}

	if GetMaxAttempts(md) != DefaultMaxAttempts {
		t.Fatalf("expected default max attempts, got %d", GetMaxAttempts(md))
	}
	if !ExceedsMaxAttempts(md) {
		t.Fatal("expected attempts to exceed default bound after 3 deliveries")
	}

	SetMaxAttempts(md, 10)
	if ExceedsMaxAttempts(md) {
		t.Fatal("raised bound should not be exceeded yet")
	}
}

func TestAttemptIgnoresGarbageMetadata(t *testing.T) {
	t.Parallel()

	md := message.Metadata{KeyAttempt: "not-a-number"}
	if GetAttempt(md) != 0 {
		t.Fatal("garbage attempt metadata should read as zero")
	}
}

func TestMarkDeadLetter(t *testing.T) {
	t.Parallel()

	md := message.Metadata{}
	MarkDeadLetter(md, "payment-requested", "payments-service", errors.New("charge declined"))

	if !IsDeadLetter(md) {
		t.Fatal("expected dead-letter flag")
	}
	if OriginalSubject(md) != "payment-requested" {
		t.Fatalf("unexpected original subject: %s", OriginalSubject(md))
	}
	if ErrorMessage(md) != "charge declined" {
		t.Fatalf("unexpected error message: %s", ErrorMessage(md))
	}
	if md.Get(KeyConsumerName) != "payments-service" {
		t.Fatalf("unexpected consumer name: %s", md.Get(KeyConsumerName))
	}
}

func TestDeadLetterSubject(t *testing.T) {
	t.Parallel()

	if got := DeadLetterSubject("order-created", ""); got != "order-created.dead" {
		t.Fatalf("unexpected default dlq subject: %s", got)
	}
	if got := DeadLetterSubject("order-created", ".dlq"); got != "order-created.dlq" {
		t.Fatalf("unexpected custom dlq subject: %s", got)
	}
}
