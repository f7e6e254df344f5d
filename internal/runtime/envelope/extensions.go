package envelope

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Delivery bookkeeping rides in the message metadata, not in the envelope
// body: the envelope is immutable, the delivery state is not.
const (
	// KeyAttempt is the current delivery attempt number (1-based).
	KeyAttempt = "el_attempt"

	// KeyMaxAttempts is the per-message bound on handler retries.
	KeyMaxAttempts = "el_max_attempts"

	// KeyDeadLetter marks a message routed to the dead-letter destination.
	KeyDeadLetter = "el_dead_letter"

	// KeyOriginalSubject stores the source subject on dead-lettered messages.
	KeyOriginalSubject = "el_original_subject"

	// KeyErrorMessage stores the last handler error on dead-lettered messages.
	KeyErrorMessage = "el_error_message"

	// KeyCorrelationID mirrors the envelope correlation ID into metadata so
	// transports and middleware can read it without parsing the body.
	KeyCorrelationID = "correlation_id"

	// KeyConsumerName records which consumer dead-lettered the message.
	KeyConsumerName = "el_consumer_name"
)

// DefaultMaxAttempts bounds handler retries when the config does not say
// otherwise.
const DefaultMaxAttempts = 3

// GetAttempt returns the current attempt number, 0 when unset.
func GetAttempt(md message.Metadata) int {
	return metadataInt(md, KeyAttempt)
}

// IncrementAttempt bumps the attempt counter and returns the new value.
func IncrementAttempt(md message.Metadata) int {
	n := GetAttempt(md) + 1
	md.Set(KeyAttempt, strconv.Itoa(n))
	return n
}

// GetMaxAttempts returns the retry bound for this message, falling back to
// DefaultMaxAttempts.
func GetMaxAttempts(md message.Metadata) int {
	if n := metadataInt(md, KeyMaxAttempts); n > 0 {
		return n
	}
	return DefaultMaxAttempts
}

// SetMaxAttempts sets the retry bound for this message.
func SetMaxAttempts(md message.Metadata, n int) {
	md.Set(KeyMaxAttempts, strconv.Itoa(n))
}

// ExceedsMaxAttempts reports whether the attempt counter reached the bound.
func ExceedsMaxAttempts(md message.Metadata) bool {
	return GetAttempt(md) >= GetMaxAttempts(md)
}

// IsDeadLetter reports whether the message was routed to the dead-letter
// destination.
func IsDeadLetter(md message.Metadata) bool {
	return md.Get(KeyDeadLetter) == "true"
}

// MarkDeadLetter records the dead-letter routing on the message: the flag,
// the original subject, the consumer that gave up, and the final error.
func MarkDeadLetter(md message.Metadata, originalSubject, consumerName string, err error) {
	md.Set(KeyDeadLetter, "true")
	md.Set(KeyOriginalSubject, originalSubject)
	if consumerName != "" {
		md.Set(KeyConsumerName, consumerName)
	}
	if err != nil {
		md.Set(KeyErrorMessage, err.Error())
	}
}

// OriginalSubject returns the source subject of a dead-lettered message.
func OriginalSubject(md message.Metadata) string {
	return md.Get(KeyOriginalSubject)
}

// ErrorMessage returns the recorded handler error of a dead-lettered message.
func ErrorMessage(md message.Metadata) string {
	return md.Get(KeyErrorMessage)
}

// DeadLetterSubject derives the dead-letter destination for a subject.
func DeadLetterSubject(subject, suffix string) string {
	if suffix == "" {
		suffix = ".dead"
	}
	return subject + suffix
}

func metadataInt(md message.Metadata, key string) int {
	raw := md.Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
