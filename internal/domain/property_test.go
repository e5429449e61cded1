package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// Property: the series has one entry per day and preserves the order count.
func TestOrdersOverTimeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	start := day("2024-01-01")

	properties.Property("gap filled series covers every day and every order", prop.ForAll(
		func(span int, offsets []int) bool {
			w := Window{Start: start, End: start.AddDate(0, 0, span), Location: time.UTC}
			orders := make([]OrderFact, 0, len(offsets))
			for _, minutes := range offsets {
				orders = append(orders, OrderFact{ID: uuid.New(), CreatedAt: start.Add(time.Duration(minutes%((span+1)*24*60)) * time.Minute)})
			}

			series := OrdersOverTime(w, orders)
			if len(series) != span+1 {
				return false
			}
			total := 0
			prev := ""
			for _, p := range series {
				if p.Date <= prev {
					return false
				}
				prev = p.Date
				total += p.Count
			}
			return total == len(orders)
		},
		gen.IntRange(0, 120),
		gen.SliceOf(gen.IntRange(0, 1<<20)),
	))

	properties.TestingRun(t)
}

// Property: balance == amount - sum(applied) and never goes negative.
func TestGiftCardLedgerProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("redemptions preserve the ledger equation", prop.ForAll(
		func(initialCents int64, requests []int64) bool {
			amount := decimal.New(initialCents, -2)
			card := GiftCard{Code: "P", Amount: amount, Balance: amount, IsActive: true}
			applied := decimal.Zero

			for _, cents := range requests {
				req := decimal.New(cents, -2)
				if err := card.CanRedeem(req, now); err != nil {
					continue
				}
				card = card.Redeemed(req)
				applied = applied.Add(req)
			}

			if card.Balance.IsNegative() {
				return false
			}
			if !card.Balance.Equal(amount.Sub(applied)) {
				return false
			}
			return card.IsActive == card.Balance.IsPositive()
		},
		gen.Int64Range(1, 100000),
		gen.SliceOf(gen.Int64Range(-500, 5000)),
	))

	properties.TestingRun(t)
}
