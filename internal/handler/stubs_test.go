package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"commerce-core/internal/domain"
	"commerce-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubOrders struct {
	create   func(domain.CreateOrderInput) (*domain.Order, error)
	apply    func(uuid.UUID, string, decimal.Decimal) (domain.GiftCardApplication, error)
	update   func(uuid.UUID, domain.OrderPatch) (*domain.Order, error)
	findOne  func(uuid.UUID) (*domain.Order, error)
	byUser   func(uuid.UUID) ([]domain.Order, error)
	byVendor func(uuid.UUID) ([]domain.Order, error)
}

func (s *stubOrders) CreateOrder(_ context.Context, in domain.CreateOrderInput) (*domain.Order, error) {
	return s.create(in)
}

func (s *stubOrders) ApplyGiftCard(_ context.Context, id uuid.UUID, code string, amount decimal.Decimal) (domain.GiftCardApplication, error) {
	return s.apply(id, code, amount)
}

func (s *stubOrders) UpdateOrder(_ context.Context, id uuid.UUID, patch domain.OrderPatch) (*domain.Order, error) {
	return s.update(id, patch)
}

func (s *stubOrders) FindOne(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.findOne(id)
}

func (s *stubOrders) FindByUser(_ context.Context, id uuid.UUID) ([]domain.Order, error) {
	return s.byUser(id)
}

func (s *stubOrders) FindByVendor(_ context.Context, id uuid.UUID) ([]domain.Order, error) {
	return s.byVendor(id)
}

type stubPayments struct {
	create func(uuid.UUID, decimal.Decimal) (domain.IntentResult, error)
	calls  int
}

func (s *stubPayments) CreateIntent(_ context.Context, id uuid.UUID, amount decimal.Decimal) (domain.IntentResult, error) {
	s.calls++
	return s.create(id, amount)
}

func (s *stubPayments) Payments(context.Context, uuid.UUID) ([]domain.Payment, error) {
	return nil, nil
}

type stubGiftCards struct {
	validate func(string) (domain.GiftCardSummary, error)
	balance  func(string) (*domain.GiftCard, error)
	issued   []domain.IssueGiftCardInput
}

func (s *stubGiftCards) Validate(_ context.Context, code string) (domain.GiftCardSummary, error) {
	return s.validate(code)
}

func (s *stubGiftCards) Redeem(context.Context, *sql.Tx, uuid.UUID, uuid.UUID, decimal.Decimal) (*domain.GiftCard, error) {
	return nil, nil
}

func (s *stubGiftCards) Issue(_ context.Context, in domain.IssueGiftCardInput) (*domain.GiftCard, error) {
	s.issued = append(s.issued, in)
	return &domain.GiftCard{ID: uuid.New(), Code: in.Code, Amount: in.Amount, Balance: in.Amount, IsActive: true, VendorID: in.VendorID}, nil
}

func (s *stubGiftCards) Balance(_ context.Context, code string) (*domain.GiftCard, error) {
	return s.balance(code)
}

func (s *stubGiftCards) ListAll(context.Context) ([]domain.GiftCard, error) {
	return nil, nil
}

func (s *stubGiftCards) ListByVendor(context.Context, uuid.UUID) ([]domain.GiftCard, error) {
	return nil, nil
}

func (s *stubGiftCards) Usages(context.Context, uuid.UUID) ([]domain.GiftCardUsage, error) {
	return nil, nil
}

type stubWebhooks struct {
	outcome service.Outcome
	err     error
	payload []byte
	header  string
}

func (s *stubWebhooks) Handle(_ context.Context, payload []byte, header string) (service.Outcome, error) {
	s.payload = payload
	s.header = header
	return s.outcome, s.err
}

type stubStats struct {
	scope domain.Scope
	query service.WindowQuery
}

func (s *stubStats) ResolveWindow(q service.WindowQuery) (domain.Window, error) {
	s.query = q
	if q.Filter == "bogus" {
		return domain.Window{}, domain.ErrValidation
	}
	return domain.Window{}, nil
}

func (s *stubStats) Dashboard(_ context.Context, scope domain.Scope, _ domain.Window) (domain.Dashboard, error) {
	s.scope = scope
	return domain.Dashboard{StartDate: "2024-03-01", EndDate: "2024-03-15"}, nil
}

func (s *stubStats) Extended(_ context.Context, scope domain.Scope, _ domain.Window) (domain.ExtendedStats, error) {
	s.scope = scope
	return domain.ExtendedStats{}, nil
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func serve(t *testing.T, r http.Handler, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	switch b := req.body.(type) {
	case nil:
	case string:
		body.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&body).Encode(b))
	}
	httpReq := httptest.NewRequest(req.method, req.path, &body)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
