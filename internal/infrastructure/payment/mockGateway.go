package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"commerce-core/internal/domain"

	"github.com/google/uuid"
)

// ErrIntentNotFound is returned by MockGateway for unknown intent ids.
var ErrIntentNotFound = errors.New("mock gateway: intent not found")

// MockGateway is an in-memory PaymentGateway for local runs and tests. A
// repeated idempotency key returns the intent created the first time.
type MockGateway struct {
	mu        sync.RWMutex
	intents   map[string]domain.PaymentIntent
	byKey     map[string]string
	failNext  error
	createCnt int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		intents: make(map[string]domain.PaymentIntent),
		byKey:   make(map[string]string),
	}
}

func (g *MockGateway) CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.failNext; err != nil {
		g.failNext = nil
		return domain.PaymentIntent{}, err
	}

	// check Idempotency Key (if created, return the same intent)
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		if id, ok := g.byKey[key]; ok {
			return g.intents[id], nil
		}
	}

	g.createCnt++
	id := "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	intent := domain.PaymentIntent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_%d", id, g.createCnt),
		AmountMinor:  req.AmountMinor,
		Currency:     strings.ToLower(req.Currency),
		Status:       domain.IntentPending,
	}
	g.intents[id] = intent
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = id
	}
	return intent, nil
}

func (g *MockGateway) GetIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	intent, ok := g.intents[intentID]
	if !ok {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
	}
	return intent, nil
}

// SetStatus simulates the customer completing or abandoning the charge.
func (g *MockGateway) SetStatus(intentID string, status domain.IntentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	intent, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
	}
	intent.Status = status
	g.intents[intentID] = intent
	return nil
}

// FailNext makes the next CreateIntent call return err.
func (g *MockGateway) FailNext(err error) {
	g.mu.Lock()
	g.failNext = err
	g.mu.Unlock()
}

// Created reports how many distinct intents have been created.
func (g *MockGateway) Created() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.createCnt
}
