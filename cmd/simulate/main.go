// Command simulate drives the engine against the in-memory gateway: it places
// orders, pays some of them, drops or duplicates some webhooks and then runs a
// reconciliation pass so the repaired orders can be compared with the gateway.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"commerce-core/internal/app"
	"commerce-core/internal/config"
	"commerce-core/internal/domain"
	"commerce-core/internal/platform/observability"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"
)

const (
	orderCount     = 20
	simulateSecret = "whsec_simulate"
)

type scenario int

const (
	paidDelivered scenario = iota
	paidWebhookLost
	paidDeliveredTwice
	declined
	abandoned
)

func (s scenario) String() string {
	return [...]string{"paid", "paid, webhook lost", "paid, delivered twice", "declined", "abandoned"}[s]
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Payment.StripeSecretKey = ""
	cfg.Payment.StripeWebhookSecret = simulateSecret
	cfg.RedisAddr = ""
	cfg.ReconcileStuckAge = 0

	logger, err := observability.NewLogger("warn")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	productID, err := seedProduct(ctx, a)
	if err != nil {
		logger.Fatal("seed product", zap.Error(err))
	}
	card, err := a.Services.GiftCards.Issue(ctx, domain.IssueGiftCardInput{
		Code:   "SIM-" + uuid.NewString()[:8],
		Amount: decimal.NewFromInt(50),
	})
	if err != nil {
		logger.Fatal("issue gift card", zap.Error(err))
	}

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", orderCount)
	type placed struct {
		order    *domain.Order
		scenario scenario
	}
	var orders []placed

	for i := 0; i < orderCount; i++ {
		order, err := a.Services.Orders.CreateOrder(ctx, domain.CreateOrderInput{
			UserID: uuid.New(),
			Items:  []domain.OrderLine{{ProductID: productID, Quantity: 1 + rand.IntN(3)}},
		})
		if err != nil {
			fmt.Printf("[%d] create failed: %v\n", i+1, err)
			continue
		}

		total := order.Total
		if i%4 == 0 {
			applied, err := a.Services.Orders.ApplyGiftCard(ctx, order.ID, card.Code, decimal.NewFromInt(5))
			if err != nil {
				fmt.Printf("[%d] gift card not applied: %v\n", i+1, err)
			} else {
				total = applied.NewOrderTotal
			}
		}

		intent, err := a.Services.Payments.CreateIntent(ctx, order.ID, total)
		if err != nil {
			fmt.Printf("[%d] intent failed: %v\n", i+1, err)
			continue
		}

		sc := scenario(rand.IntN(5))
		fmt.Printf("[%d] order %s total %s -> %s (%s)\n", i+1, order.ID, total.StringFixed(2), intent.IntentID, sc)
		if err := play(ctx, a, intent.IntentID, sc); err != nil {
			fmt.Printf("    -> webhook error: %v\n", err)
		}
		orders = append(orders, placed{order: order, scenario: sc})
		time.Sleep(50 * time.Millisecond)
	}

	fmt.Println("--- BEFORE RECONCILIATION ---")
	for _, p := range orders {
		fresh, err := a.Services.Orders.FindOne(ctx, p.order.ID)
		if err != nil {
			continue
		}
		fmt.Printf("%s  %-22s %s\n", fresh.ID, p.scenario, fresh.Status)
	}

	report, err := a.Worker.RunOnce(ctx)
	if err != nil {
		logger.Fatal("reconciliation pass", zap.Error(err))
	}
	fmt.Printf("--- RECONCILED: checked %d, applied %d, still pending %d, errors %d ---\n",
		report.Checked, report.Applied, report.StillPending, report.Errors)

	for _, p := range orders {
		fresh, err := a.Services.Orders.FindOne(ctx, p.order.ID)
		if err != nil {
			continue
		}
		fmt.Printf("%s  %-22s %s\n", fresh.ID, p.scenario, fresh.Status)
	}
}

func seedProduct(ctx context.Context, a *app.App) (uuid.UUID, error) {
	id := uuid.New()
	_, err := a.DB.ExecContext(ctx,
		`INSERT INTO products (id, name, price) VALUES ($1, $2, $3)`,
		id, "Simulated widget", decimal.RequireFromString("12.50"),
	)
	return id, err
}

func play(ctx context.Context, a *app.App, intentID string, sc scenario) error {
	switch sc {
	case paidDelivered, paidWebhookLost, paidDeliveredTwice:
		if err := a.Mock.SetStatus(intentID, domain.IntentSucceeded); err != nil {
			return err
		}
	case declined:
		if err := a.Mock.SetStatus(intentID, domain.IntentFailed); err != nil {
			return err
		}
	case abandoned:
		return nil
	}

	switch sc {
	case paidDelivered:
		return deliver(ctx, a, "payment_intent.succeeded", intentID)
	case paidDeliveredTwice:
		if err := deliver(ctx, a, "payment_intent.succeeded", intentID); err != nil {
			return err
		}
		return deliver(ctx, a, "payment_intent.succeeded", intentID)
	case declined:
		return deliver(ctx, a, "payment_intent.payment_failed", intentID)
	}
	return nil
}

// deliver signs a minimal Stripe event and hands it to the webhook service.
// Repeated deliveries of one intent reuse the event id, as Stripe retries do.
func deliver(ctx context.Context, a *app.App, eventType, intentID string) error {
	payload, err := json.Marshal(map[string]any{
		"id":     "evt_" + intentID,
		"object": "event",
		"type":   eventType,
		"data": map[string]any{
			"object": map[string]any{"id": intentID, "object": "payment_intent"},
		},
	})
	if err != nil {
		return err
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    simulateSecret,
		Timestamp: time.Now(),
	})
	outcome, err := a.Services.Webhooks.Handle(ctx, signed.Payload, signed.Header)
	if err != nil {
		return err
	}
	fmt.Printf("    -> %s: %s\n", eventType, outcome)
	return nil
}
