// Package orders runs the order-side coordinator of the fulfillment
// saga: it owns the order state machine and emits the next step after
// each consumed event.
package orders

import (
	"context"
	"sync"
	"time"

	"github.com/mercora/eventline/saga"
)

// Order is the coordinator's view of one saga instance.
type Order struct {
	ID         string           `json:"id"`
	CustomerID string           `json:"customerId"`
	Items      []saga.OrderItem `json:"items"`
	Total      float64          `json:"total"`
	State      saga.State       `json:"state"`
	PaymentID  string           `json:"paymentId,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Store persists coordinator order state. Implementations must be safe
// for concurrent use; Put overwrites the stored order.
type Store interface {
	Get(ctx context.Context, orderID string) (Order, bool, error)
	Put(ctx context.Context, order Order) error
}

// MemoryStore is the in-process Store used by tests and single-node
// deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]Order)}
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	return order, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
	return nil
}
