package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"commerce-core/internal/database"
	"commerce-core/internal/domain"
	"commerce-core/internal/infrastructure/payment"
	"commerce-core/internal/platform/observability"
	"commerce-core/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentConfig is the payment policy injected at construction.
type PaymentConfig struct {
	MinAmount decimal.Decimal
	Currency  string
	// GatewayTimeout bounds each gateway call; zero leaves the caller's deadline.
	GatewayTimeout time.Duration
}

func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		MinAmount:      decimal.NewFromInt(1),
		Currency:       "usd",
		GatewayTimeout: 10 * time.Second,
	}
}

type PaymentService interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (domain.IntentResult, error)
	Payments(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error)
}

type paymentService struct {
	db          *sql.DB
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	paymentGtw  payment.PaymentGateway
	reconciler  PaymentReconciler
	cfg         PaymentConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewPaymentService(
	db *sql.DB,
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	paymentGtw payment.PaymentGateway,
	reconciler PaymentReconciler,
	cfg PaymentConfig,
	logger *zap.Logger,
) PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &paymentService{
		db:          db,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		paymentGtw:  paymentGtw,
		reconciler:  reconciler,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *paymentService) CreateIntent(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (result domain.IntentResult, err error) {
	ctx, span := observability.StartSpan(ctx, "payment.create_intent", attribute.String("order.id", orderID.String()))
	defer func() { observability.EndSpan(span, err) }()

	if amount.LessThan(s.cfg.MinAmount) {
		return result, fmt.Errorf("%w: payment amount %s is below the minimum of %s %s",
			domain.ErrValidation, amount.StringFixed(2), s.cfg.MinAmount.StringFixed(2), strings.ToUpper(s.cfg.Currency))
	}

	order, err := s.orderRepo.FindById(ctx, nil, orderID)
	if err != nil {
		return result, err
	}
	if order.Status != domain.OrderPending && order.Status != domain.OrderProcessing {
		return result, fmt.Errorf("%w: order %s is %s and cannot be paid", domain.ErrValidation, orderID, order.Status)
	}
	if !amount.Equal(order.Total) {
		s.logger.Warn("payment amount differs from order total",
			zap.String("order_id", orderID.String()),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("total", order.Total.StringFixed(2)),
		)
	}

	minor := domain.ToMinorUnits(amount)

	if order.Status == domain.OrderProcessing && order.PaymentIntentID != nil {
		if existing, ok := s.currentIntent(ctx, *order.PaymentIntentID); ok {
			// A settled intent is applied before anything else so a paid order
			// never gets a second charge.
			if kind := domain.PaymentEventForIntent(existing.Status); kind != domain.EventUnhandled {
				return result, s.settle(ctx, order.ID, *order.PaymentIntentID, kind)
			}
			if existing.AmountMinor == minor && existing.ClientSecret != "" {
				return domain.IntentResult{ClientSecret: existing.ClientSecret, IntentID: existing.ID, Reused: true}, nil
			}
		}
	}

	// The key changes once an attempt is stored, so an unusable intent is
	// replaced rather than replayed; a lost response replays the same intent.
	attempts, err := s.paymentRepo.ListByOrder(ctx, orderID)
	if err != nil {
		return result, err
	}

	gwCtx, cancel := s.gatewayContext(ctx)
	intent, err := s.paymentGtw.CreateIntent(gwCtx, payment.IntentRequest{
		AmountMinor:    minor,
		Currency:       s.cfg.Currency,
		IdempotencyKey: fmt.Sprintf("order:%s:%d:%d", orderID, minor, len(attempts)),
		Metadata:       map[string]string{"order_id": orderID.String()},
	})
	cancel()
	if err != nil {
		s.logger.Error("payment gateway rejected intent creation",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		return result, fmt.Errorf("%w: could not create payment intent", domain.ErrUpstreamGateway)
	}

	now := s.now().UTC()
	var superseded []string
	err = database.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if err := s.paymentRepo.CreatePayment(ctx, tx, &domain.Payment{
			ID:        uuid.New(),
			OrderID:   orderID,
			IntentID:  intent.ID,
			Amount:    amount,
			Currency:  s.cfg.Currency,
			Status:    domain.PaymentProcessing,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		if _, err := s.orderRepo.AttachPaymentIntent(ctx, tx, orderID, intent.ID); err != nil {
			return err
		}
		superseded, err = s.paymentRepo.SupersedeOthers(ctx, tx, orderID, intent.ID)
		return err
	})
	if err != nil {
		// The gateway intent exists but is not linked; it stays unconfirmed and
		// a retry with the same amount replays it through the idempotency key.
		s.logger.Error("payment intent created but not stored",
			zap.String("order_id", orderID.String()),
			zap.String("payment_intent", intent.ID),
			zap.Error(err),
		)
		return result, err
	}

	if len(superseded) > 0 {
		s.logger.Warn("payment intent replaced an open intent",
			zap.String("order_id", orderID.String()),
			zap.String("payment_intent", intent.ID),
			zap.Strings("superseded", superseded),
		)
	}
	s.logger.Info("payment intent created",
		zap.String("order_id", orderID.String()),
		zap.String("payment_intent", intent.ID),
		zap.Int64("amount_minor", minor),
	)
	return domain.IntentResult{ClientSecret: intent.ClientSecret, IntentID: intent.ID}, nil
}

// currentIntent loads the order's linked intent from the gateway. A lookup
// failure is logged and treated as no intent.
func (s *paymentService) currentIntent(ctx context.Context, intentID string) (domain.PaymentIntent, bool) {
	gwCtx, cancel := s.gatewayContext(ctx)
	defer cancel()

	existing, err := s.paymentGtw.GetIntent(gwCtx, intentID)
	if err != nil {
		s.logger.Warn("could not load existing payment intent", zap.String("payment_intent", intentID), zap.Error(err))
		return domain.PaymentIntent{}, false
	}
	return existing, true
}

// settle applies the outcome of a settled intent and returns the error that
// refuses the new payment.
func (s *paymentService) settle(ctx context.Context, orderID uuid.UUID, intentID string, kind domain.PaymentEventKind) error {
	outcome, err := s.reconciler.Apply(ctx, intentID, kind)
	if err != nil {
		return err
	}
	s.logger.Info("settled payment intent applied",
		zap.String("order_id", orderID.String()),
		zap.String("payment_intent", intentID),
		zap.Stringer("kind", kind),
		zap.String("outcome", string(outcome)),
	)
	if kind == domain.EventPaymentSucceeded {
		return fmt.Errorf("%w: order %s is already paid", domain.ErrConflict, orderID)
	}
	return fmt.Errorf("%w: payment for order %s failed and the order was cancelled", domain.ErrValidation, orderID)
}

func (s *paymentService) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.GatewayTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.GatewayTimeout)
}

func (s *paymentService) Payments(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	if _, err := s.orderRepo.FindById(ctx, nil, orderID); err != nil {
		return nil, err
	}
	return s.paymentRepo.ListByOrder(ctx, orderID)
}
