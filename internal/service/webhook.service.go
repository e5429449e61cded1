package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"commerce-core/internal/database"
	"commerce-core/internal/domain"
	"commerce-core/internal/infrastructure/payment"
	"commerce-core/internal/platform/dedupe"
	"commerce-core/internal/platform/observability"
	"commerce-core/internal/repo"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Outcome describes what applying a payment event did to its order.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeNoMatch        Outcome = "no_match"
	OutcomeDuplicate      Outcome = "duplicate"
)

type WebhookService interface {
	// Handle verifies the raw body and applies the event. A nil error means
	// the delivery can be acknowledged.
	Handle(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error)
}

// PaymentReconciler applies gateway outcomes to orders.
type PaymentReconciler interface {
	Apply(ctx context.Context, intentID string, kind domain.PaymentEventKind) (Outcome, error)
}

type paymentReconciler struct {
	db          *sql.DB
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	logger      *zap.Logger
}

func NewPaymentReconciler(db *sql.DB, orderRepo repo.OrderRepo, paymentRepo repo.PaymentRepo, logger *zap.Logger) PaymentReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &paymentReconciler{db: db, orderRepo: orderRepo, paymentRepo: paymentRepo, logger: logger}
}

func (r *paymentReconciler) Apply(ctx context.Context, intentID string, kind domain.PaymentEventKind) (Outcome, error) {
	transition, ok := domain.PaymentTransition(kind)
	if !ok {
		return OutcomeIgnored, nil
	}
	paymentStatus, _ := domain.PaymentStatusFor(kind)

	order, err := r.orderRepo.FindByPaymentIntent(ctx, intentID)
	if errors.Is(err, domain.ErrNotFound) {
		// Either an intent this engine never linked, or one superseded by a
		// newer intent. Keep the attempt log accurate and acknowledge.
		if err := r.paymentRepo.UpdatePaymentStatus(ctx, nil, intentID, paymentStatus); err != nil {
			return "", err
		}
		r.logger.Warn("payment event matched no order",
			zap.String("payment_intent", intentID),
			zap.Stringer("kind", kind),
		)
		return OutcomeNoMatch, nil
	}
	if err != nil {
		return "", err
	}

	if !transition.Allows(order.Status) {
		outcome := OutcomeIgnored
		if order.Status == transition.To {
			outcome = OutcomeAlreadyApplied
		}
		r.logger.Info("payment event left order unchanged",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)),
			zap.Stringer("kind", kind),
			zap.String("outcome", string(outcome)),
		)
		return outcome, nil
	}

	var changed bool
	err = database.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		var err error
		changed, err = r.orderRepo.TransitionStatus(ctx, tx, order.ID, transition)
		if err != nil {
			return err
		}
		return r.paymentRepo.UpdatePaymentStatus(ctx, tx, intentID, paymentStatus)
	})
	if err != nil {
		return "", err
	}
	if !changed {
		// Another delivery won the race between the read and the update.
		return OutcomeAlreadyApplied, nil
	}

	r.logger.Info("order status reconciled",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_intent", intentID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(transition.To)),
	)
	return OutcomeApplied, nil
}

type webhookService struct {
	verifier   payment.EventVerifier
	reconciler PaymentReconciler
	seen       dedupe.Store
	dedupeTTL  time.Duration
	logger     *zap.Logger
}

// NewWebhookService wires verification, deduplication and reconciliation. seen may be nil.
func NewWebhookService(verifier payment.EventVerifier, reconciler PaymentReconciler, seen dedupe.Store, dedupeTTL time.Duration, logger *zap.Logger) WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &webhookService{
		verifier:   verifier,
		reconciler: reconciler,
		seen:       seen,
		dedupeTTL:  dedupeTTL,
		logger:     logger,
	}
}

func (s *webhookService) Handle(ctx context.Context, payload []byte, signatureHeader string) (outcome Outcome, err error) {
	ctx, span := observability.StartSpan(ctx, "webhook.handle")
	defer func() { observability.EndSpan(span, err) }()

	event, err := s.verifier.Verify(payload, signatureHeader)
	if err != nil {
		s.logger.Warn("webhook rejected", zap.Error(err))
		return "", err
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", event.EventID),
		attribute.String("webhook.type", event.Type),
	)

	if event.Kind == domain.EventUnhandled {
		s.logger.Debug("webhook event type not handled", zap.String("event_id", event.EventID), zap.String("type", event.Type))
		return OutcomeIgnored, nil
	}

	claimed := false
	if s.seen != nil && event.EventID != "" {
		first, err := s.seen.Claim(ctx, "webhook:"+event.EventID, s.dedupeTTL)
		switch {
		case err != nil:
			// Order transitions are conditional, so processing without the
			// claim is still safe.
			s.logger.Warn("webhook dedupe unavailable", zap.String("event_id", event.EventID), zap.Error(err))
		case !first:
			s.logger.Info("duplicate webhook delivery", zap.String("event_id", event.EventID))
			return OutcomeDuplicate, nil
		default:
			claimed = true
		}
	}

	outcome, err = s.reconciler.Apply(ctx, event.IntentID, event.Kind)
	if err != nil {
		if claimed {
			if relErr := s.seen.Release(ctx, "webhook:"+event.EventID); relErr != nil {
				s.logger.Warn("webhook dedupe release failed", zap.String("event_id", event.EventID), zap.Error(relErr))
			}
		}
		s.logger.Error("webhook processing failed",
			zap.String("event_id", event.EventID),
			zap.String("payment_intent", event.IntentID),
			zap.Error(err),
		)
		return "", err
	}
	return outcome, nil
}
