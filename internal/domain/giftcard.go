package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GiftCard is a prepaid redemption code. Amount is the face value and never
// changes; Balance only decreases. A nil VendorID marks a platform-issued card.
type GiftCard struct {
	ID        uuid.UUID       `json:"id"`
	Code      string          `json:"code"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"isActive"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	VendorID  *uuid.UUID      `json:"vendorId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type GiftCardUsage struct {
	ID         uuid.UUID       `json:"id"`
	GiftCardID uuid.UUID       `json:"giftCardId"`
	OrderID    uuid.UUID       `json:"orderId"`
	AmountUsed decimal.Decimal `json:"amountUsed"`
	UsedAt     time.Time       `json:"usedAt"`
}

type GiftCardSummary struct {
	ID      uuid.UUID       `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Amount  decimal.Decimal `json:"amount"`
}

func (g GiftCard) Summary() GiftCardSummary {
	return GiftCardSummary{ID: g.ID, Balance: g.Balance, Amount: g.Amount}
}

func (g GiftCard) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Usable checks redemption preconditions in a fixed order: active flag,
// expiry, then remaining balance.
func (g GiftCard) Usable(now time.Time) error {
	switch {
	case !g.IsActive:
		return fmt.Errorf("%w: gift card %s is not active", ErrGiftCardInactive, g.Code)
	case g.Expired(now):
		return fmt.Errorf("%w: gift card %s expired at %s", ErrGiftCardExpired, g.Code, g.ExpiresAt.UTC().Format(time.RFC3339))
	case !g.Balance.IsPositive():
		return fmt.Errorf("%w: gift card %s has no remaining balance", ErrGiftCardDepleted, g.Code)
	}
	return nil
}

// CanRedeem extends Usable with the requested amount.
func (g GiftCard) CanRedeem(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount to use must be positive", ErrValidation)
	}
	if err := g.Usable(now); err != nil {
		return err
	}
	if amount.GreaterThan(g.Balance) {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount.StringFixed(2), g.Balance.StringFixed(2))
	}
	return nil
}

// Redeemed returns the card after spending amount. Callers must have checked CanRedeem.
func (g GiftCard) Redeemed(amount decimal.Decimal) GiftCard {
	g.Balance = g.Balance.Sub(amount)
	g.IsActive = g.Balance.IsPositive()
	return g
}

type IssueGiftCardInput struct {
	Code      string
	Amount    decimal.Decimal
	ExpiresAt *time.Time
	VendorID  *uuid.UUID
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WholeCents reports whether d fits a NUMERIC(12,2) column without rounding.
func WholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// ValidateRedeemAmount rejects amounts the ledger cannot store exactly.
func ValidateRedeemAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount to use must be positive", ErrValidation)
	}
	if !WholeCents(amount) {
		return fmt.Errorf("%w: amount to use %s has more than two decimal places", ErrValidation, amount)
	}
	return nil
}

func (in IssueGiftCardInput) Validate(now time.Time) error {
	if NormalizeCode(in.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !WholeCents(in.Amount) {
		return fmt.Errorf("%w: amount has more than two decimal places", ErrValidation)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expiresAt must be in the future", ErrValidation)
	}
	return nil
}

// GiftCardApplication is the outcome of applying a gift card to an order.
type GiftCardApplication struct {
	GiftCardApplied  decimal.Decimal `json:"giftCardApplied"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	NewOrderTotal    decimal.Decimal `json:"newOrderTotal"`
}
