package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"commerce-core/internal/domain"
	"commerce-core/internal/infrastructure/payment"
	"commerce-core/internal/repo"
	"commerce-core/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrderRepo struct {
	repo.OrderRepo
	stuck []domain.Order
	err   error
	pages int
}

// FindStuckOrders pages through stuck in slice order, treating it as the
// (updated_at, id) ordering of the real query.
func (s *stubOrderRepo) FindStuckOrders(_ context.Context, _ time.Duration, after *repo.StuckCursor, limit int) ([]domain.Order, error) {
	s.pages++
	if s.err != nil {
		return nil, s.err
	}
	start := 0
	if after != nil {
		for i, o := range s.stuck {
			if o.ID == after.ID {
				start = i + 1
			}
		}
	}
	end := min(start+limit, len(s.stuck))
	return s.stuck[start:end], nil
}

type stubGiftCardRepo struct {
	repo.GiftCardRepo
	expired int64
	at      time.Time
}

func (s *stubGiftCardRepo) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	s.at = now
	return s.expired, nil
}

type applied struct {
	intentID string
	kind     domain.PaymentEventKind
}

type recordingReconciler struct {
	calls   []applied
	outcome service.Outcome
	err     error
}

func (r *recordingReconciler) Apply(_ context.Context, intentID string, kind domain.PaymentEventKind) (service.Outcome, error) {
	r.calls = append(r.calls, applied{intentID, kind})
	return r.outcome, r.err
}

func stuckOrder(intentID string) domain.Order {
	o := domain.Order{ID: uuid.New(), Status: domain.OrderProcessing}
	if intentID != "" {
		o.PaymentIntentID = &intentID
	}
	return o
}

func openIntent(t *testing.T, gw *payment.MockGateway, status domain.IntentStatus) string {
	t.Helper()
	intent, err := gw.CreateIntent(context.Background(), payment.IntentRequest{AmountMinor: 1000, Currency: "usd"})
	require.NoError(t, err)
	require.NoError(t, gw.SetStatus(intent.ID, status))
	return intent.ID
}

func TestRunOnce_AppliesGatewayOutcome(t *testing.T) {
	gw := payment.NewMockGateway()
	paid := openIntent(t, gw, domain.IntentSucceeded)
	declined := openIntent(t, gw, domain.IntentFailed)
	waiting := openIntent(t, gw, domain.IntentPending)

	orders := &stubOrderRepo{stuck: []domain.Order{
		stuckOrder(paid),
		stuckOrder(declined),
		stuckOrder(waiting),
		stuckOrder("pi_unknown"),
		stuckOrder(""),
	}}
	cards := &stubGiftCardRepo{expired: 2}
	reconciler := &recordingReconciler{outcome: service.OutcomeApplied}
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	w := NewReconciliationWorker(orders, cards, gw, reconciler, time.Minute, 10*time.Minute, nil)
	w.now = func() time.Time { return now }

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Checked: 4, Applied: 2, StillPending: 1, Errors: 1, GiftCardsExpired: 2}, report)
	assert.Equal(t, []applied{
		{paid, domain.EventPaymentSucceeded},
		{declined, domain.EventPaymentFailed},
	}, reconciler.calls)
	assert.Equal(t, now, cards.at)
}

func TestRunOnce_CountsReconcileErrorsAndContinues(t *testing.T) {
	gw := payment.NewMockGateway()
	first := openIntent(t, gw, domain.IntentSucceeded)
	second := openIntent(t, gw, domain.IntentSucceeded)

	reconciler := &recordingReconciler{err: errors.New("deadlock detected")}
	w := NewReconciliationWorker(&stubOrderRepo{stuck: []domain.Order{stuckOrder(first), stuckOrder(second)}}, nil, gw, reconciler, 0, 0, nil)

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Errors)
	assert.Zero(t, report.Applied)
	assert.Len(t, reconciler.calls, 2)
}

func TestRunOnce_AlreadyAppliedIsNotCounted(t *testing.T) {
	gw := payment.NewMockGateway()
	paid := openIntent(t, gw, domain.IntentSucceeded)

	reconciler := &recordingReconciler{outcome: service.OutcomeAlreadyApplied}
	w := NewReconciliationWorker(&stubOrderRepo{stuck: []domain.Order{stuckOrder(paid)}}, nil, gw, reconciler, 0, 0, nil)

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Applied)
}

func TestRunOnce_RepositoryFailure(t *testing.T) {
	boom := errors.New("db down")
	w := NewReconciliationWorker(&stubOrderRepo{err: boom}, nil, payment.NewMockGateway(), &recordingReconciler{}, 0, 0, nil)

	_, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewReconciliationWorker(&stubOrderRepo{}, nil, payment.NewMockGateway(), &recordingReconciler{}, 5*time.Millisecond, 0, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRun_DisabledWithoutInterval(t *testing.T) {
	w := NewReconciliationWorker(&stubOrderRepo{}, nil, payment.NewMockGateway(), &recordingReconciler{}, 0, 0, nil)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when the interval is zero")
	}
}

func TestRunOnce_PagesPastStillPendingOrders(t *testing.T) {
	gw := payment.NewMockGateway()
	var stuck []domain.Order
	for range 5 {
		stuck = append(stuck, stuckOrder(openIntent(t, gw, domain.IntentPending)))
	}
	paid := openIntent(t, gw, domain.IntentSucceeded)
	stuck = append(stuck, stuckOrder(paid))

	orders := &stubOrderRepo{stuck: stuck}
	reconciler := &recordingReconciler{outcome: service.OutcomeApplied}
	w := NewReconciliationWorker(orders, nil, gw, reconciler, time.Minute, 10*time.Minute, nil)
	w.batchSize = 2

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Checked)
	assert.Equal(t, 5, report.StillPending)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, []applied{{paid, domain.EventPaymentSucceeded}}, reconciler.calls)
	assert.Equal(t, 4, orders.pages)
}
