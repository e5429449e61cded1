package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "PENDING"
	IntentSucceeded IntentStatus = "SUCCEEDED"
	IntentFailed    IntentStatus = "FAILED"
)

// PaymentIntent is the gateway-side handle for a charge attempt. Only the
// opaque identifier is persisted on the order.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Status       IntentStatus
}

// ToMinorUnits converts an amount to the gateway's minor-unit convention,
// rounding half away from zero to the nearest integer unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// PaymentEventKind is the closed set of gateway notifications the engine understands.
type PaymentEventKind int

const (
	EventUnhandled PaymentEventKind = iota
	EventPaymentSucceeded
	EventPaymentFailed
)

func (k PaymentEventKind) String() string {
	switch k {
	case EventPaymentSucceeded:
		return "payment_succeeded"
	case EventPaymentFailed:
		return "payment_failed"
	default:
		return "unhandled"
	}
}

type PaymentEvent struct {
	Kind     PaymentEventKind
	EventID  string
	Type     string
	IntentID string
}

// Transition describes a conditional status change: the order moves to To
// only if it is currently in one of From.
type Transition struct {
	From []OrderStatus
	To   OrderStatus
}

// PaymentTransition returns the status change a payment event causes. Both
// pending and processing are valid predecessors because the notification can
// arrive before the intent-creation call has stored processing.
func PaymentTransition(kind PaymentEventKind) (Transition, bool) {
	switch kind {
	case EventPaymentSucceeded:
		return Transition{From: []OrderStatus{OrderPending, OrderProcessing}, To: OrderCompleted}, true
	case EventPaymentFailed:
		return Transition{From: []OrderStatus{OrderPending, OrderProcessing}, To: OrderCancelled}, true
	default:
		return Transition{}, false
	}
}

func (t Transition) Allows(current OrderStatus) bool {
	for _, s := range t.From {
		if s == current {
			return true
		}
	}
	return false
}

// PaymentEventForIntent maps a gateway intent status to the event it implies.
func PaymentEventForIntent(status IntentStatus) PaymentEventKind {
	switch status {
	case IntentSucceeded:
		return EventPaymentSucceeded
	case IntentFailed:
		return EventPaymentFailed
	default:
		return EventUnhandled
	}
}

type PaymentStatus string

const (
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentFailed     PaymentStatus = "FAILED"
	// PaymentSuperseded marks an intent replaced by a newer one for the same order.
	PaymentSuperseded PaymentStatus = "SUPERSEDED"
)

// Payment records one intent created for an order.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"orderId"`
	IntentID  string          `json:"intentId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    PaymentStatus   `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func PaymentStatusFor(kind PaymentEventKind) (PaymentStatus, bool) {
	switch kind {
	case EventPaymentSucceeded:
		return PaymentSucceeded, true
	case EventPaymentFailed:
		return PaymentFailed, true
	default:
		return "", false
	}
}

// IntentResult is returned to the client that will confirm the charge.
type IntentResult struct {
	ClientSecret string `json:"clientSecret"`
	IntentID     string `json:"paymentIntentId"`
	Reused       bool   `json:"reused"`
}
