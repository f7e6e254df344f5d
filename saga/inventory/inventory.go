// Package inventory runs the stock-side coordinator of the fulfillment
// saga: it reserves stock when an order is requested and releases the
// reservation when the order is cancelled.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mercora/eventline/internal/runtime"
	"github.com/mercora/eventline/internal/runtime/envelope"
	loggingpkg "github.com/mercora/eventline/internal/runtime/logging"
	"github.com/mercora/eventline/saga"
)

// ConsumerName identifies the inventory service on the broker.
const ConsumerName = "inventory"

// ErrInsufficientStock reports that a reservation cannot be satisfied.
var ErrInsufficientStock = errors.New("insufficient stock")

// StockStore tracks product stock levels and per-order reservations.
// Reserve and Release are idempotent per order ID.
type StockStore interface {
	Reserve(ctx context.Context, orderID string, items []saga.OrderItem) error
	Release(ctx context.Context, orderID string) error
}

// MemoryStock is the in-process StockStore. Levels start at whatever
// SetLevel seeds; reservations subtract from them.
type MemoryStock struct {
	mu           sync.Mutex
	levels       map[string]int
	reservations map[string][]saga.OrderItem
}

func NewMemoryStock() *MemoryStock {
	return &MemoryStock{
		levels:       make(map[string]int),
		reservations: make(map[string][]saga.OrderItem),
	}
}

// SetLevel seeds the available quantity for a product.
func (s *MemoryStock) SetLevel(productID string, quantity int) {
	s.mu.Lock()
	s.levels[productID] = quantity
	s.mu.Unlock()
}

// Level returns the currently available quantity for a product.
func (s *MemoryStock) Level(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[productID]
}

// Reserved reports whether a reservation is held for the order.
func (s *MemoryStock) Reserved(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reservations[orderID]
	return ok
}

func (s *MemoryStock) Reserve(_ context.Context, orderID string, items []saga.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[orderID]; ok {
		return nil
	}

	for _, item := range items {
		if s.levels[item.ProductID] < item.Quantity {
			return fmt.Errorf("%w: product %s needs %d, has %d",
				ErrInsufficientStock, item.ProductID, item.Quantity, s.levels[item.ProductID])
		}
	}
	for _, item := range items {
		s.levels[item.ProductID] -= item.Quantity
	}
	s.reservations[orderID] = items
	return nil
}

func (s *MemoryStock) Release(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.reservations[orderID]
	if !ok {
		return nil
	}
	for _, item := range items {
		s.levels[item.ProductID] += item.Quantity
	}
	delete(s.reservations, orderID)
	return nil
}

// Coordinator consumes the saga events that affect stock. Releases are
// driven by the order-cancelled event, never by a direct call from the
// order service.
type Coordinator struct {
	bus    saga.Bus
	stock  StockStore
	logger loggingpkg.ServiceLogger
}

func NewCoordinator(bus saga.Bus, stock StockStore, logger loggingpkg.ServiceLogger) (*Coordinator, error) {
	if bus == nil {
		return nil, errors.New("inventory: bus is required")
	}
	if logger == nil {
		return nil, errors.New("inventory: logger is required")
	}
	if stock == nil {
		stock = NewMemoryStock()
	}
	return &Coordinator{bus: bus, stock: stock, logger: logger}, nil
}

// Register subscribes the coordinator's handlers.
func (c *Coordinator) Register() error {
	if err := c.bus.OnEvent(saga.SubjectOrderCreateRequested, ConsumerName, runtime.Typed(c.handleCreateRequested)); err != nil {
		return err
	}
	return c.bus.OnEvent(saga.SubjectOrderCancelled, ConsumerName, runtime.Typed(c.handleOrderCancelled))
}

func (c *Coordinator) handleCreateRequested(ctx context.Context, evt envelope.Event, payload saga.OrderCreateRequested) error {
	if payload.OrderID == "" {
		return &envelope.DeadLetterError{Reason: "order id missing"}
	}

	err := c.stock.Reserve(ctx, payload.OrderID, payload.Items)
	if errors.Is(err, ErrInsufficientStock) {
		// Retrying will not conjure stock; the failed-payment path is
		// the saga's cancellation signal, so report it there.
		c.logger.Info("reservation rejected", loggingpkg.LogFields{
			"order_id": payload.OrderID,
			"reason":   err.Error(),
		})
		_, emitErr := c.bus.Emit(ctx, saga.SubjectPaymentFailed, saga.PaymentFailed{
			OrderID: payload.OrderID,
			Reason:  err.Error(),
		}, correlationFor(evt, payload.OrderID))
		return emitErr
	}
	if err != nil {
		return fmt.Errorf("reserving stock for order %s: %w", payload.OrderID, err)
	}

	c.logger.Info("stock reserved", loggingpkg.LogFields{"order_id": payload.OrderID})
	return nil
}

func (c *Coordinator) handleOrderCancelled(ctx context.Context, _ envelope.Event, payload saga.OrderCancelled) error {
	if err := c.stock.Release(ctx, payload.OrderID); err != nil {
		return fmt.Errorf("releasing stock for order %s: %w", payload.OrderID, err)
	}
	c.logger.Info("stock released", loggingpkg.LogFields{
		"order_id": payload.OrderID,
		"reason":   payload.Reason,
	})
	return nil
}

func correlationFor(evt envelope.Event, orderID string) string {
	if evt.CorrelationID != "" {
		return evt.CorrelationID
	}
	return orderID
}
