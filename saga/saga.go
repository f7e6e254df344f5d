// Package saga defines the shared vocabulary of the order-fulfillment
// saga: the lifecycle states, the event subjects exchanged between the
// coordinators, and their payload schemas.
package saga

import (
	"context"

	"github.com/mercora/eventline/internal/runtime"
	schemapkg "github.com/mercora/eventline/internal/runtime/schema"
)

// State is a stage in the order-fulfillment lifecycle. Transitions are
// monotonic; once an order reaches a terminal state it never leaves it.
type State string

const (
	StateCreated         State = "created"
	StateAwaitingPayment State = "awaiting_payment"
	StatePaid            State = "paid"
	StatePaymentFailed   State = "payment_failed"
	StateConfirmed       State = "confirmed"
	StateCancelled       State = "cancelled"
)

// Event subjects of the fulfillment saga. One durable destination exists
// per subject; the correlation ID on every event is the order ID.
const (
	SubjectOrderCreateRequested = "order-create-requested"
	SubjectOrderCreated         = "order-created"
	SubjectPaymentRequested     = "payment-requested"
	SubjectPaymentSucceeded     = "payment-succeeded"
	SubjectPaymentFailed        = "payment-failed"
	SubjectOrderConfirmed       = "order-confirmed"
	SubjectOrderCancelled       = "order-cancelled"
)

var transitions = map[State][]State{
	StateCreated:         {StateAwaitingPayment},
	StateAwaitingPayment: {StatePaid, StatePaymentFailed, StateConfirmed, StateCancelled},
	StatePaid:            {StateConfirmed},
	StatePaymentFailed:   {StateCancelled},
}

// CanTransition reports whether moving from one state to another is a
// legal forward step. Terminal states allow no further transitions.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the saga. Every valid event
// sequence drives an order to exactly one terminal state.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// OrderCreateRequested starts a saga instance. Published by the order
// API after its local transactional step committed.
type OrderCreateRequested struct {
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Items      []OrderItem `json:"items"`
	Total      float64     `json:"total"`
}

// OrderCreated confirms the order record exists and stock is being held.
type OrderCreated struct {
	OrderID    string  `json:"orderId"`
	CustomerID string  `json:"customerId"`
	Total      float64 `json:"total"`
}

// PaymentRequested asks the payment service to charge the order total.
type PaymentRequested struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

// PaymentSucceeded reports a completed charge.
type PaymentSucceeded struct {
	OrderID   string  `json:"orderId"`
	PaymentID string  `json:"paymentId"`
	Amount    float64 `json:"amount"`
}

// PaymentFailed reports a declined or failed charge.
type PaymentFailed struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// OrderConfirmed marks the saga's successful terminal state.
type OrderConfirmed struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
}

// OrderCancelled marks the compensated terminal state. Inventory releases
// its reservation when it sees this event.
type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// RegisterSchemas registers every saga subject at its current version.
// Call once per service before emitting or subscribing.
func RegisterSchemas(registry *schemapkg.Registry) {
	registry.Register(SubjectOrderCreateRequested, 1, &OrderCreateRequested{})
	registry.Register(SubjectOrderCreated, 1, &OrderCreated{})
	registry.Register(SubjectPaymentRequested, 1, &PaymentRequested{})
	registry.Register(SubjectPaymentSucceeded, 1, &PaymentSucceeded{})
	registry.Register(SubjectPaymentFailed, 1, &PaymentFailed{})
	registry.Register(SubjectOrderConfirmed, 1, &OrderConfirmed{})
	registry.Register(SubjectOrderCancelled, 1, &OrderCancelled{})
}

// Bus is the slice of the event service the coordinators need. The
// runtime Service satisfies it; tests substitute recording fakes.
type Bus interface {
	Emit(ctx context.Context, subject string, payload any, correlationID string) (string, error)
	OnEvent(subject, consumerName string, handler runtime.EventHandler) error
}
