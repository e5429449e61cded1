package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"commerce-core/internal/domain"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"
)

const (
	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
	eventIntentCanceled  = "payment_intent.canceled"

	DefaultSignatureTolerance = 5 * time.Minute
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *zap.Logger
	// Intents replaces the Stripe client, mainly for tests.
	Intents stripePaymentIntentAPI
}

// StripeGateway creates and reads Stripe Payment Intents.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	logger  *zap.Logger
}

func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{intents: intents, logger: logger}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	g.logger.Info("payments.stripe.intent.created",
		zap.String("payment_intent", intent.ID),
		zap.Int64("amount", intent.Amount),
		zap.String("status", string(intent.Status)),
	)
	return stripeIntent(intent), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.intents.Get(intentID, params)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	return stripeIntent(intent), nil
}

func stripeIntent(intent *stripe.PaymentIntent) domain.PaymentIntent {
	if intent == nil {
		return domain.PaymentIntent{}
	}
	status := domain.IntentPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = domain.IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = domain.IntentFailed
	}
	return domain.PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.Amount,
		Currency:     string(intent.Currency),
		Status:       status,
	}
}

// StripeVerifier checks the Stripe-Signature header against the endpoint secret.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &StripeVerifier{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (domain.PaymentEvent, error) {
	if v == nil || v.secret == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: webhook secret not configured", domain.ErrSignatureInvalid)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}
	return decodeStripeEvent(event)
}

func decodeStripeEvent(event stripe.Event) (domain.PaymentEvent, error) {
	out := domain.PaymentEvent{EventID: event.ID, Type: string(event.Type)}
	switch string(event.Type) {
	case eventIntentSucceeded:
		out.Kind = domain.EventPaymentSucceeded
	case eventIntentFailed, eventIntentCanceled:
		out.Kind = domain.EventPaymentFailed
	default:
		out.Kind = domain.EventUnhandled
		return out, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.PaymentEvent{}, fmt.Errorf("%w: stripe event %s has no data object", domain.ErrValidation, event.ID)
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: stripe event %s: decode payment intent: %v", domain.ErrValidation, event.ID, err)
	}
	if intent.ID == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: stripe event %s carries no payment intent id", domain.ErrValidation, event.ID)
	}
	out.IntentID = intent.ID
	return out, nil
}
