// Package ledger persists which events each consumer has already processed,
// guaranteeing at-most-once side effects under broker redelivery. The broker
// itself is at-least-once; this ledger is what turns redelivery into a no-op.
package ledger

import (
	"context"
	"sync"
	"time"
)

// Entry is one processed-event record.
type Entry struct {
	EventID      string
	ConsumerName string
	ProcessedAt  time.Time
}

// Ledger records (event id, consumer name) pairs whose side effects have run.
//
// Record is the atomic check-and-record: it returns inserted == false when
// another delivery already claimed the pair, which callers treat as a
// duplicate, not an error. Seen is a cheap pre-check used to suppress known
// duplicates before the handler runs; it cannot replace Record because two
// concurrent deliveries may both pass it.
type Ledger interface {
	Seen(ctx context.Context, eventID, consumerName string) (bool, error)
	Record(ctx context.Context, eventID, consumerName string) (inserted bool, err error)
}

type pairKey struct {
	eventID  string
	consumer string
}

// MemoryLedger is an in-process Ledger for tests and local development.
// Construct one per test; instances share nothing.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[pairKey]Entry
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[pairKey]Entry)}
}

func (l *MemoryLedger) Seen(_ context.Context, eventID, consumerName string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[pairKey{eventID, consumerName}]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, eventID, consumerName string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := pairKey{eventID, consumerName}
	if _, ok := l.entries[key]; ok {
		return false, nil
	}
	l.entries[key] = Entry{
		EventID:      eventID,
		ConsumerName: consumerName,
		ProcessedAt:  time.Now().UTC(),
	}
	return true, nil
}

// Len returns the number of recorded pairs.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
