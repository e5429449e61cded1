package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"commerce-core/internal/domain"
	"commerce-core/internal/infrastructure/payment"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentSvc(t *testing.T) (*paymentService, *store, *payment.MockGateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := txDB(t)
	st := newStore()
	gw := payment.NewMockGateway()
	reconciler := NewPaymentReconciler(db, fakeOrderRepo{st}, fakePaymentRepo{st}, nil)
	svc := NewPaymentService(db, fakeOrderRepo{st}, fakePaymentRepo{st}, gw, reconciler, DefaultPaymentConfig(), nil).(*paymentService)
	svc.now = func() time.Time { return fixedNow }
	return svc, st, gw, mock
}

func TestCreateIntent_MinimumAmount(t *testing.T) {
	svc, st, gw, mock := newPaymentSvc(t)
	order := st.addOrder(domain.OrderPending, "1.00", "")

	_, err := svc.CreateIntent(context.Background(), order.ID, dec("0.99"))
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, gw.Created())
	assert.Equal(t, domain.OrderPending, st.order(order.ID).Status)

	expectCommit(mock)
	res, err := svc.CreateIntent(context.Background(), order.ID, dec("1.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.IntentID)

	intent, err := gw.GetIntent(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), intent.AmountMinor)
	assert.Equal(t, "usd", intent.Currency)
}

func TestCreateIntent_AttachesIntentAndRecordsAttempt(t *testing.T) {
	svc, st, _, mock := newPaymentSvc(t)
	order := st.addOrder(domain.OrderPending, "25.50", "")

	expectCommit(mock)
	res, err := svc.CreateIntent(context.Background(), order.ID, dec("25.50"))
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Contains(t, res.ClientSecret, res.IntentID)

	stored := st.order(order.ID)
	assert.Equal(t, domain.OrderProcessing, stored.Status)
	require.NotNil(t, stored.PaymentIntentID)
	assert.Equal(t, res.IntentID, *stored.PaymentIntentID)

	p, ok := st.payment(res.IntentID)
	require.True(t, ok)
	assert.Equal(t, domain.PaymentProcessing, p.Status)
	assert.True(t, p.Amount.Equal(dec("25.50")))
}

func TestCreateIntent_ReusesOpenIntent(t *testing.T) {
	svc, st, gw, mock := newPaymentSvc(t)
	order := st.addOrder(domain.OrderPending, "25.50", "")

	expectCommit(mock)
	first, err := svc.CreateIntent(context.Background(), order.ID, dec("25.50"))
	require.NoError(t, err)

	second, err := svc.CreateIntent(context.Background(), order.ID, dec("25.50"))
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.IntentID, second.IntentID)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	assert.Equal(t, 1, gw.Created())
}

func TestCreateIntent_NewAmountSupersedesOpenIntent(t *testing.T) {
	svc, st, gw, mock := newPaymentSvc(t)
	order := st.addOrder(domain.OrderPending, "25.50", "")

	expectCommit(mock)
	first, err := svc.CreateIntent(context.Background(), order.ID, dec("25.50"))
	require.NoError(t, err)

	expectCommit(mock)
	second, err := svc.CreateIntent(context.Background(), order.ID, dec("20.00"))
	require.NoError(t, err)
	assert.NotEqual(t, first.IntentID, second.IntentID)
	assert.Equal(t, 2, gw.Created())

	assert.Equal(t, second.IntentID, *st.order(order.ID).PaymentIntentID)
	old, _ := st.payment(first.IntentID)
	assert.Equal(t, domain.PaymentSuperseded, old.Status)
	latest, _ := st.payment(second.IntentID)
	assert.Equal(t, domain.PaymentProcessing, latest.Status)

	payments, err := svc.Payments(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestCreateIntent_FailedIntentCancelsOrder(t *testing.T) {
	svc, st, gw, mock := newPaymentSvc(t)
	order := st.addOrder(domain.OrderPending, "10.00", "")

	expectCommit(mock)
	first, err := svc.CreateIntent(context.Background(), order.ID, dec("10.00"))
	require.NoError(t, err)
	require.NoError(t, gw.SetStatus(first.IntentID, domain.IntentFailed))

	expectCommit(mock)
	_, err = svc.CreateIntent(context.Background(), order.ID, dec("10.00"))
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 1, gw.Created())
	assert.Equal(t, domain.OrderCancelled, st.order(order.ID).Status)

	p, _ := st.payment(first.IntentID)
	assert.Equal(t, domain.PaymentFailed, p.Status)
}

func TestCreateIntent_SucceededIntentIsApplied(t *testing.T) {
	svc, st, gw, mock := newPaymentSvc(t)
	order := st.addOrder(domain.OrderPending, "10.00", "")

	expectCommit(mock)
	first, err := svc.CreateIntent(context.Background(), order.ID, dec("10.00"))
	require.NoError(t, err)
	require.NoError(t, gw.SetStatus(first.IntentID, domain.IntentSucceeded))

	expectCommit(mock)
	_, err = svc.CreateIntent(context.Background(), order.ID, dec("10.00"))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, gw.Created())

	stored := st.order(order.ID)
	assert.Equal(t, domain.OrderCompleted, stored.Status)
	assert.Equal(t, first.IntentID, *stored.PaymentIntentID)
	p, _ := st.payment(first.IntentID)
	assert.Equal(t, domain.PaymentSucceeded, p.Status)

	// The late webhook for the paid intent still finds its order.
	outcome, err := svc.reconciler.Apply(context.Background(), first.IntentID, domain.EventPaymentSucceeded)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, outcome)

	_, err = svc.CreateIntent(context.Background(), order.ID, dec("10.00"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 1, gw.Created())
}

func TestCreateIntent_GatewayFailure(t *testing.T) {
	svc, st, gw, _ := newPaymentSvc(t)
	order := st.addOrder(domain.OrderPending, "25.50", "")
	gw.FailNext(errors.New("connection reset"))

	_, err := svc.CreateIntent(context.Background(), order.ID, dec("25.50"))
	require.ErrorIs(t, err, domain.ErrUpstreamGateway)
	assert.NotContains(t, err.Error(), "connection reset")

	stored := st.order(order.ID)
	assert.Equal(t, domain.OrderPending, stored.Status)
	assert.Nil(t, stored.PaymentIntentID)
}

func TestCreateIntent_OrderPreconditions(t *testing.T) {
	svc, st, gw, _ := newPaymentSvc(t)

	for _, status := range []domain.OrderStatus{domain.OrderCompleted, domain.OrderCancelled, domain.OrderShipped} {
		order := st.addOrder(status, "25.50", "")
		_, err := svc.CreateIntent(context.Background(), order.ID, dec("25.50"))
		assert.ErrorIs(t, err, domain.ErrValidation, status)
	}

	_, err := svc.CreateIntent(context.Background(), uuid.New(), dec("25.50"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, gw.Created())
}

func TestCreateIntent_AmountMismatchIsAccepted(t *testing.T) {
	svc, st, _, mock := newPaymentSvc(t)
	order := st.addOrder(domain.OrderPending, "25.50", "")

	expectCommit(mock)
	_, err := svc.CreateIntent(context.Background(), order.ID, dec("30.00"))
	assert.NoError(t, err)
}
