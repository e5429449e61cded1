package payment

import (
	"context"

	"commerce-core/internal/domain"
)

// IntentRequest asks the gateway to open a charge for AmountMinor units.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error)
	GetIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error)
}

// EventVerifier authenticates a raw webhook body and decodes it.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (domain.PaymentEvent, error)
}
