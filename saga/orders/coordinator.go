package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mercora/eventline/internal/runtime"
	"github.com/mercora/eventline/internal/runtime/envelope"
	loggingpkg "github.com/mercora/eventline/internal/runtime/logging"
	"github.com/mercora/eventline/saga"
)

// ConsumerName identifies the order service on the broker. It stays
// stable across restarts so redeliveries reach the same backlog.
const ConsumerName = "orders"

// Coordinator drives the order state machine. It consumes the saga's
// trigger events and emits the follow-up events; all cross-service
// effects happen through the bus, never by direct calls.
type Coordinator struct {
	bus    saga.Bus
	store  Store
	logger loggingpkg.ServiceLogger
}

// NewCoordinator wires a coordinator against the bus. A nil store gets
// an in-memory one.
func NewCoordinator(bus saga.Bus, store Store, logger loggingpkg.ServiceLogger) (*Coordinator, error) {
	if bus == nil {
		return nil, errors.New("orders: bus is required")
	}
	if logger == nil {
		return nil, errors.New("orders: logger is required")
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Coordinator{bus: bus, store: store, logger: logger}, nil
}

// Register subscribes the coordinator's handlers. Call before the
// service starts listening.
func (c *Coordinator) Register() error {
	if err := c.bus.OnEvent(saga.SubjectOrderCreateRequested, ConsumerName, runtime.Typed(c.handleCreateRequested)); err != nil {
		return err
	}
	if err := c.bus.OnEvent(saga.SubjectPaymentSucceeded, ConsumerName, runtime.Typed(c.handlePaymentSucceeded)); err != nil {
		return err
	}
	return c.bus.OnEvent(saga.SubjectPaymentFailed, ConsumerName, runtime.Typed(c.handlePaymentFailed))
}

func (c *Coordinator) handleCreateRequested(ctx context.Context, evt envelope.Event, payload saga.OrderCreateRequested) error {
	if payload.OrderID == "" {
		return &envelope.DeadLetterError{Reason: "order id missing", Cause: nil}
	}
	correlationID := correlationFor(evt, payload.OrderID)

	order, exists, err := c.store.Get(ctx, payload.OrderID)
	if err != nil {
		return fmt.Errorf("loading order %s: %w", payload.OrderID, err)
	}

	switch {
	case !exists:
		order = Order{
			ID:         payload.OrderID,
			CustomerID: payload.CustomerID,
			Items:      payload.Items,
			Total:      payload.Total,
			State:      saga.StateCreated,
			UpdatedAt:  time.Now().UTC(),
		}
		if err := c.store.Put(ctx, order); err != nil {
			return fmt.Errorf("storing order %s: %w", order.ID, err)
		}

	case order.State == saga.StateCreated:
		// A previous attempt stored the order but did not finish the
		// announcements; replay them all. Consumers deduplicate, so a
		// repeated order-created is harmless while a missing one stalls
		// the downstream services.
		c.logger.Info("resuming order creation", loggingpkg.LogFields{"order_id": order.ID})

	default:
		c.logger.Debug("order already progressed, ignoring create request", loggingpkg.LogFields{
			"order_id": order.ID,
			"state":    string(order.State),
		})
		return nil
	}

	if _, err := c.bus.Emit(ctx, saga.SubjectOrderCreated, saga.OrderCreated{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Total:      order.Total,
	}, correlationID); err != nil {
		return fmt.Errorf("emitting %s: %w", saga.SubjectOrderCreated, err)
	}

	if _, err := c.bus.Emit(ctx, saga.SubjectPaymentRequested, saga.PaymentRequested{
		OrderID: order.ID,
		Amount:  order.Total,
	}, correlationID); err != nil {
		return fmt.Errorf("emitting %s: %w", saga.SubjectPaymentRequested, err)
	}

	return c.advance(ctx, order, saga.StateAwaitingPayment)
}

func (c *Coordinator) handlePaymentSucceeded(ctx context.Context, evt envelope.Event, payload saga.PaymentSucceeded) error {
	order, exists, err := c.store.Get(ctx, payload.OrderID)
	if err != nil {
		return fmt.Errorf("loading order %s: %w", payload.OrderID, err)
	}
	if !exists {
		// Out-of-order delivery: the create handler has not run yet.
		return fmt.Errorf("order %s not found yet", payload.OrderID)
	}
	if order.State == saga.StateConfirmed {
		c.logger.Debug("order already confirmed", loggingpkg.LogFields{"order_id": order.ID})
		return nil
	}
	if order.State.Terminal() {
		c.logger.Error("payment succeeded for a cancelled order", nil, loggingpkg.LogFields{
			"order_id":   order.ID,
			"payment_id": payload.PaymentID,
		})
		return nil
	}
	if !saga.CanTransition(order.State, saga.StateConfirmed) {
		return fmt.Errorf("order %s in state %s cannot confirm yet", order.ID, order.State)
	}

	if _, err := c.bus.Emit(ctx, saga.SubjectOrderConfirmed, saga.OrderConfirmed{
		OrderID:   order.ID,
		PaymentID: payload.PaymentID,
	}, correlationFor(evt, order.ID)); err != nil {
		return fmt.Errorf("emitting %s: %w", saga.SubjectOrderConfirmed, err)
	}

	order.PaymentID = payload.PaymentID
	return c.advance(ctx, order, saga.StateConfirmed)
}

func (c *Coordinator) handlePaymentFailed(ctx context.Context, evt envelope.Event, payload saga.PaymentFailed) error {
	order, exists, err := c.store.Get(ctx, payload.OrderID)
	if err != nil {
		return fmt.Errorf("loading order %s: %w", payload.OrderID, err)
	}
	if !exists {
		return fmt.Errorf("order %s not found yet", payload.OrderID)
	}
	if order.State == saga.StateCancelled {
		c.logger.Debug("order already cancelled", loggingpkg.LogFields{"order_id": order.ID})
		return nil
	}
	if order.State.Terminal() {
		c.logger.Error("payment failed for a confirmed order", nil, loggingpkg.LogFields{
			"order_id": order.ID,
			"reason":   payload.Reason,
		})
		return nil
	}
	if !saga.CanTransition(order.State, saga.StateCancelled) {
		return fmt.Errorf("order %s in state %s cannot cancel yet", order.ID, order.State)
	}

	if _, err := c.bus.Emit(ctx, saga.SubjectOrderCancelled, saga.OrderCancelled{
		OrderID: order.ID,
		Reason:  payload.Reason,
	}, correlationFor(evt, order.ID)); err != nil {
		return fmt.Errorf("emitting %s: %w", saga.SubjectOrderCancelled, err)
	}

	order.Reason = payload.Reason
	return c.advance(ctx, order, saga.StateCancelled)
}

// advance moves the order to the next state and persists it.
func (c *Coordinator) advance(ctx context.Context, order Order, to saga.State) error {
	if !saga.CanTransition(order.State, to) {
		return fmt.Errorf("invalid transition %s -> %s for order %s", order.State, to, order.ID)
	}
	order.State = to
	order.UpdatedAt = time.Now().UTC()
	if err := c.store.Put(ctx, order); err != nil {
		return fmt.Errorf("storing order %s: %w", order.ID, err)
	}
	c.logger.Info("order state changed", loggingpkg.LogFields{
		"order_id": order.ID,
		"state":    string(to),
	})
	return nil
}

func correlationFor(evt envelope.Event, orderID string) string {
	if evt.CorrelationID != "" {
		return evt.CorrelationID
	}
	return orderID
}
