// Package payments runs the payment-side coordinator of the fulfillment
// saga: it charges requested amounts through a gateway and reports the
// outcome as events.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mercora/eventline/internal/runtime"
	"github.com/mercora/eventline/internal/runtime/envelope"
	idspkg "github.com/mercora/eventline/internal/runtime/ids"
	loggingpkg "github.com/mercora/eventline/internal/runtime/logging"
	"github.com/mercora/eventline/saga"
)

// ConsumerName identifies the payment service on the broker.
const ConsumerName = "payments"

// DeclinedError reports a definitive refusal from the gateway. Declines
// are a saga outcome, not a transient fault, so they are never retried.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

// Gateway charges an order. Charge must be idempotent per order ID: a
// repeated charge for the same order returns the original payment ID.
// Transient failures return ordinary errors; definitive refusals return
// a *DeclinedError.
type Gateway interface {
	Charge(ctx context.Context, orderID string, amount float64) (paymentID string, err error)
}

// FakeGateway is the in-process Gateway used by tests and demos.
type FakeGateway struct {
	mu       sync.Mutex
	payments map[string]string
	declines map[string]string
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		payments: make(map[string]string),
		declines: make(map[string]string),
	}
}

// DeclineOrder makes future charges for the order fail with the reason.
func (g *FakeGateway) DeclineOrder(orderID, reason string) {
	g.mu.Lock()
	g.declines[orderID] = reason
	g.mu.Unlock()
}

// Charges returns how many distinct orders have been charged.
func (g *FakeGateway) Charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payments)
}

func (g *FakeGateway) Charge(_ context.Context, orderID string, _ float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if reason, ok := g.declines[orderID]; ok {
		return "", &DeclinedError{Reason: reason}
	}
	if paymentID, ok := g.payments[orderID]; ok {
		return paymentID, nil
	}
	paymentID := idspkg.NewEventID()
	g.payments[orderID] = paymentID
	return paymentID, nil
}

// Coordinator consumes payment requests and emits the charge outcome.
type Coordinator struct {
	bus     saga.Bus
	gateway Gateway
	logger  loggingpkg.ServiceLogger
}

func NewCoordinator(bus saga.Bus, gateway Gateway, logger loggingpkg.ServiceLogger) (*Coordinator, error) {
	if bus == nil {
		return nil, errors.New("payments: bus is required")
	}
	if gateway == nil {
		return nil, errors.New("payments: gateway is required")
	}
	if logger == nil {
		return nil, errors.New("payments: logger is required")
	}
	return &Coordinator{bus: bus, gateway: gateway, logger: logger}, nil
}

// Register subscribes the coordinator's handler.
func (c *Coordinator) Register() error {
	return c.bus.OnEvent(saga.SubjectPaymentRequested, ConsumerName, runtime.Typed(c.handlePaymentRequested))
}

func (c *Coordinator) handlePaymentRequested(ctx context.Context, evt envelope.Event, payload saga.PaymentRequested) error {
	if payload.OrderID == "" {
		return &envelope.DeadLetterError{Reason: "order id missing"}
	}
	correlationID := correlationFor(evt, payload.OrderID)

	paymentID, err := c.gateway.Charge(ctx, payload.OrderID, payload.Amount)

	var declined *DeclinedError
	if errors.As(err, &declined) {
		c.logger.Info("payment declined", loggingpkg.LogFields{
			"order_id": payload.OrderID,
			"reason":   declined.Reason,
		})
		_, emitErr := c.bus.Emit(ctx, saga.SubjectPaymentFailed, saga.PaymentFailed{
			OrderID: payload.OrderID,
			Reason:  declined.Reason,
		}, correlationID)
		return emitErr
	}
	if err != nil {
		// Gateway outage or timeout: retry, then dead-letter.
		return fmt.Errorf("charging order %s: %w", payload.OrderID, err)
	}

	c.logger.Info("payment captured", loggingpkg.LogFields{
		"order_id":   payload.OrderID,
		"payment_id": paymentID,
	})
	_, emitErr := c.bus.Emit(ctx, saga.SubjectPaymentSucceeded, saga.PaymentSucceeded{
		OrderID:   payload.OrderID,
		PaymentID: paymentID,
		Amount:    payload.Amount,
	}, correlationID)
	return emitErr
}

func correlationFor(evt envelope.Event, orderID string) string {
	if evt.CorrelationID != "" {
		return evt.CorrelationID
	}
	return orderID
}
