package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

var orderStatuses = []OrderStatus{OrderPending, OrderProcessing, OrderShipped, OrderCompleted, OrderCancelled}

func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

func (s OrderStatus) Valid() bool {
	for _, st := range orderStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether the engine's own transitions can no longer move the order.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled || s == OrderShipped
}

// CountsAsRevenue reports whether items of an order in this status contribute to revenue.
func (s OrderStatus) CountsAsRevenue() bool {
	return s == OrderCompleted || s == OrderProcessing
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"userId"`
	Status          OrderStatus     `json:"status"`
	Total           decimal.Decimal `json:"total"`
	PaymentIntentID *string         `json:"paymentIntentId,omitempty"`
	ShippingAddress json.RawMessage `json:"shippingAddress,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Items           []OrderItem     `json:"items"`
	GiftCardUsages  []GiftCardUsage `json:"giftCardUsages,omitempty"`
}

// OrderItem is a line of an order. Price is the unit price captured when the
// order was created and is never recomputed from the live product.
type OrderItem struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"orderId"`
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderTotal sums price * quantity over items.
func OrderTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// ReduceTotal subtracts amount from total, flooring at zero.
func ReduceTotal(total, amount decimal.Decimal) decimal.Decimal {
	next := total.Sub(amount)
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// OrderPatch is an administrative partial update. Nil fields are left untouched.
type OrderPatch struct {
	Status          *OrderStatus     `json:"status,omitempty"`
	Total           *decimal.Decimal `json:"total,omitempty"`
	PaymentIntentID *string          `json:"paymentIntentId,omitempty"`
	UserID          *uuid.UUID       `json:"userId,omitempty"`
}

func (p OrderPatch) Empty() bool {
	return p.Status == nil && p.Total == nil && p.PaymentIntentID == nil && p.UserID == nil
}

func (p OrderPatch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Total != nil {
		o.Total = *p.Total
	}
	if p.PaymentIntentID != nil {
		id := *p.PaymentIntentID
		o.PaymentIntentID = &id
	}
	if p.UserID != nil {
		o.UserID = *p.UserID
	}
}

type OrderLine struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type CreateOrderInput struct {
	UserID          uuid.UUID
	Items           []OrderLine
	ShippingAddress json.RawMessage
}

func (in CreateOrderInput) Validate() error {
	if in.UserID == uuid.Nil {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for i, it := range in.Items {
		if it.ProductID == uuid.Nil {
			return fmt.Errorf("%w: item %d has no productId", ErrValidation, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i)
		}
	}
	if len(in.ShippingAddress) > 0 && !json.Valid(in.ShippingAddress) {
		return fmt.Errorf("%w: shippingAddress is not valid JSON", ErrValidation)
	}
	return nil
}

// Product is the catalog collaborator's view of a product.
type Product struct {
	ID       uuid.UUID
	Name     string
	Price    decimal.Decimal
	VendorID *uuid.UUID
}
