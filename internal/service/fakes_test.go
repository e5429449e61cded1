package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"commerce-core/internal/domain"
	"commerce-core/internal/repo"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// txDB returns a sqlmock database; the fakes below ignore the *sql.Tx, so
// only Begin, Commit and Rollback need expectations.
func txDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func expectCommit(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectCommit()
}

func expectRollback(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectRollback()
}

// store is the shared in-memory state behind the fake repositories.
type store struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]domain.Order
	products map[uuid.UUID]domain.Product
	cards    map[uuid.UUID]domain.GiftCard
	usages   []domain.GiftCardUsage
	payments []domain.Payment
}

func newStore() *store {
	return &store{
		orders:   make(map[uuid.UUID]domain.Order),
		products: make(map[uuid.UUID]domain.Product),
		cards:    make(map[uuid.UUID]domain.GiftCard),
	}
}

func (s *store) addProduct(price string, vendor *uuid.UUID) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := domain.Product{ID: uuid.New(), Name: "product", Price: dec(price), VendorID: vendor}
	s.products[p.ID] = p
	return p
}

func (s *store) addOrder(status domain.OrderStatus, total string, intentID string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := domain.Order{ID: uuid.New(), UserID: uuid.New(), Status: status, Total: dec(total), CreatedAt: fixedNow, UpdatedAt: fixedNow}
	if intentID != "" {
		o.PaymentIntentID = &intentID
	}
	s.orders[o.ID] = o
	return o
}

func (s *store) addCard(code, balance string) domain.GiftCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := domain.GiftCard{ID: uuid.New(), Code: code, Amount: dec(balance), Balance: dec(balance), IsActive: true, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	s.cards[c.ID] = c
	return c
}

func (s *store) order(id uuid.UUID) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *store) card(id uuid.UUID) domain.GiftCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cards[id]
}

func (s *store) usagesFor(cardID uuid.UUID) []domain.GiftCardUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GiftCardUsage
	for _, u := range s.usages {
		if u.GiftCardID == cardID {
			out = append(out, u)
		}
	}
	return out
}

func (s *store) payment(intentID string) (domain.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.IntentID == intentID {
			return p, true
		}
	}
	return domain.Payment{}, false
}

type fakeOrderRepo struct{ s *store }

func (r fakeOrderRepo) CreateOrder(_ context.Context, _ *sql.Tx, order *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[order.ID] = *order
	return nil
}

func (r fakeOrderRepo) FindById(_ context.Context, _ *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return &o, nil
}

func (r fakeOrderRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.FindById(ctx, tx, id)
}

func (r fakeOrderRepo) FindByPaymentIntent(_ context.Context, intentID string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == intentID {
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: no order for intent %s", domain.ErrNotFound, intentID)
}

func (r fakeOrderRepo) FindByUser(_ context.Context, userID uuid.UUID) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, o := range r.s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r fakeOrderRepo) FindByVendor(_ context.Context, vendorID uuid.UUID) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, o := range r.s.orders {
		for _, it := range o.Items {
			if p := r.s.products[it.ProductID]; p.VendorID != nil && *p.VendorID == vendorID {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

func (r fakeOrderRepo) UpdateOrder(_ context.Context, _ *sql.Tx, order *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[order.ID] = *order
	return nil
}

func (r fakeOrderRepo) ReduceTotal(_ context.Context, _ *sql.Tx, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	o.Total = domain.ReduceTotal(o.Total, amount)
	r.s.orders[id] = o
	return o.Total, nil
}

func (r fakeOrderRepo) AttachPaymentIntent(_ context.Context, _ *sql.Tx, id uuid.UUID, intentID string) (domain.OrderStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	o.PaymentIntentID = &intentID
	if o.Status == domain.OrderPending {
		o.Status = domain.OrderProcessing
	}
	r.s.orders[id] = o
	return o.Status, nil
}

func (r fakeOrderRepo) TransitionStatus(_ context.Context, _ *sql.Tx, id uuid.UUID, t domain.Transition) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || !t.Allows(o.Status) {
		return false, nil
	}
	o.Status = t.To
	r.s.orders[id] = o
	return true, nil
}

func (r fakeOrderRepo) FindStuckOrders(_ context.Context, _ time.Duration, _ *repo.StuckCursor, limit int) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, o := range r.s.orders {
		if o.Status == domain.OrderProcessing && o.PaymentIntentID != nil {
			out = append(out, o)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeProductRepo struct{ s *store }

func (r fakeProductRepo) FindByIds(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uuid.UUID]domain.Product)
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// fakeGiftCardRepo mirrors the conditional UPDATE of the SQL repository.
type fakeGiftCardRepo struct{ s *store }

func (r fakeGiftCardRepo) CreateGiftCard(_ context.Context, _ *sql.Tx, card *domain.GiftCard) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.cards {
		if c.Code == card.Code {
			return fmt.Errorf("%w: gift card code %s already exists", domain.ErrConflict, card.Code)
		}
	}
	r.s.cards[card.ID] = *card
	return nil
}

func (r fakeGiftCardRepo) FindByCode(_ context.Context, code string) (*domain.GiftCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.cards {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: gift card %s", domain.ErrNotFound, code)
}

func (r fakeGiftCardRepo) FindById(_ context.Context, _ *sql.Tx, id uuid.UUID) (*domain.GiftCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cards[id]
	if !ok {
		return nil, fmt.Errorf("%w: gift card %s", domain.ErrNotFound, id)
	}
	return &c, nil
}

func (r fakeGiftCardRepo) ListAll(context.Context) ([]domain.GiftCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.GiftCard, 0, len(r.s.cards))
	for _, c := range r.s.cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r fakeGiftCardRepo) ListByVendor(_ context.Context, vendorID uuid.UUID) ([]domain.GiftCard, error) {
	all, _ := r.ListAll(context.Background())
	var out []domain.GiftCard
	for _, c := range all {
		if c.VendorID != nil && *c.VendorID == vendorID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r fakeGiftCardRepo) Decrement(_ context.Context, _ *sql.Tx, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.GiftCard, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cards[id]
	if !ok || !c.IsActive || c.Expired(now) || c.Balance.LessThan(amount) {
		return nil, false, nil
	}
	c = c.Redeemed(amount)
	c.UpdatedAt = now
	r.s.cards[id] = c
	return &c, true, nil
}

func (r fakeGiftCardRepo) InsertUsage(_ context.Context, _ *sql.Tx, usage *domain.GiftCardUsage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.usages = append(r.s.usages, *usage)
	return nil
}

func (r fakeGiftCardRepo) Usages(_ context.Context, giftCardID uuid.UUID) ([]domain.GiftCardUsage, error) {
	return r.s.usagesFor(giftCardID), nil
}

func (r fakeGiftCardRepo) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, c := range r.s.cards {
		if c.IsActive && c.Expired(now) {
			c.IsActive = false
			r.s.cards[id] = c
			n++
		}
	}
	return n, nil
}

type fakePaymentRepo struct{ s *store }

func (r fakePaymentRepo) CreatePayment(_ context.Context, _ *sql.Tx, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.payments {
		if existing.IntentID == p.IntentID {
			return nil
		}
	}
	r.s.payments = append(r.s.payments, *p)
	return nil
}

func (r fakePaymentRepo) UpdatePaymentStatus(_ context.Context, _ *sql.Tx, intentID string, status domain.PaymentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.payments {
		if r.s.payments[i].IntentID == intentID {
			r.s.payments[i].Status = status
		}
	}
	return nil
}

func (r fakePaymentRepo) SupersedeOthers(_ context.Context, _ *sql.Tx, orderID uuid.UUID, keep string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for i := range r.s.payments {
		p := &r.s.payments[i]
		if p.OrderID == orderID && p.IntentID != keep && p.Status == domain.PaymentProcessing {
			p.Status = domain.PaymentSuperseded
			ids = append(ids, p.IntentID)
		}
	}
	return ids, nil
}

func (r fakePaymentRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}
