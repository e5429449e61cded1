package worker

import (
	"context"
	"time"

	"commerce-core/internal/domain"
	"commerce-core/internal/infrastructure/payment"
	"commerce-core/internal/repo"
	"commerce-core/internal/service"

	"go.uber.org/zap"
)

const defaultBatchSize = 100

// Report summarises one reconciliation pass.
type Report struct {
	Checked          int
	Applied          int
	StillPending     int
	Errors           int
	GiftCardsExpired int64
}

// ReconciliationWorker asks the gateway about orders whose webhook never
// arrived and applies the answer, then retires expired gift cards.
type ReconciliationWorker struct {
	orderRepo  repo.OrderRepo
	giftCards  repo.GiftCardRepo
	gateway    payment.PaymentGateway
	reconciler service.PaymentReconciler
	interval   time.Duration
	stuckAge   time.Duration
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	giftCards repo.GiftCardRepo,
	gateway payment.PaymentGateway,
	reconciler service.PaymentReconciler,
	interval time.Duration,
	stuckAge time.Duration,
	logger *zap.Logger,
) *ReconciliationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationWorker{
		orderRepo:  orderRepo,
		giftCards:  giftCards,
		gateway:    gateway,
		reconciler: reconciler,
		interval:   interval,
		stuckAge:   stuckAge,
		batchSize:  defaultBatchSize,
		logger:     logger,
		now:        time.Now,
	}
}

// Run loops until ctx is cancelled.
func (rw *ReconciliationWorker) Run(ctx context.Context) {
	if rw.interval <= 0 {
		return
	}
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started", zap.Duration("interval", rw.interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.RunOnce(ctx); err != nil {
				rw.logger.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single pass over every stuck order, a page at a time.
// Per-order gateway failures are counted and skipped; they are retried on
// the next pass.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	var after *repo.StuckCursor
	for {
		page, err := rw.orderRepo.FindStuckOrders(ctx, rw.stuckAge, after, rw.batchSize)
		if err != nil {
			return report, err
		}
		if len(page) > 0 {
			rw.logger.Info("found stuck orders", zap.Int("count", len(page)))
		}
		for _, order := range page {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			rw.reconcile(ctx, order, &report)
		}
		if len(page) == 0 || len(page) < rw.batchSize {
			break
		}
		// Orders still pending keep their updated_at; the cursor moves past them.
		after = repo.CursorAfter(page[len(page)-1])
	}

	if rw.giftCards != nil {
		n, err := rw.giftCards.DeactivateExpired(ctx, rw.now())
		if err != nil {
			return report, err
		}
		report.GiftCardsExpired = n
		if n > 0 {
			rw.logger.Info("deactivated expired gift cards", zap.Int64("count", n))
		}
	}

	return report, nil
}

func (rw *ReconciliationWorker) reconcile(ctx context.Context, order domain.Order, report *Report) {
	if order.PaymentIntentID == nil {
		return
	}
	report.Checked++
	intentID := *order.PaymentIntentID

	intent, err := rw.gateway.GetIntent(ctx, intentID)
	if err != nil {
		report.Errors++
		rw.logger.Warn("intent lookup failed",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_intent", intentID),
			zap.Error(err),
		)
		return
	}

	kind := domain.PaymentEventForIntent(intent.Status)
	if kind == domain.EventUnhandled {
		report.StillPending++
		return
	}

	outcome, err := rw.reconciler.Apply(ctx, intentID, kind)
	if err != nil {
		report.Errors++
		rw.logger.Error("reconcile order failed",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_intent", intentID),
			zap.Error(err),
		)
		return
	}
	if outcome == service.OutcomeApplied {
		report.Applied++
	}
}
