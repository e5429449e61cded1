package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"commerce-core/internal/database"
	"commerce-core/internal/domain"
	"commerce-core/internal/platform/observability"
	"commerce-core/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in domain.CreateOrderInput) (*domain.Order, error)
	ApplyGiftCard(ctx context.Context, orderID uuid.UUID, code string, amount decimal.Decimal) (domain.GiftCardApplication, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, patch domain.OrderPatch) (*domain.Order, error)
	FindOne(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	FindByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.Order, error)
}

type orderService struct {
	db        *sql.DB
	orderRepo repo.OrderRepo
	products  repo.ProductRepo
	giftCards GiftCardService
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrderService(
	db *sql.DB,
	orderRepo repo.OrderRepo,
	products repo.ProductRepo,
	giftCards GiftCardService,
	logger *zap.Logger,
) OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &orderService{
		db:        db,
		orderRepo: orderRepo,
		products:  products,
		giftCards: giftCards,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, in domain.CreateOrderInput) (order *domain.Order, err error) {
	ctx, span := observability.StartSpan(ctx, "order.create", attribute.String("user.id", in.UserID.String()))
	defer func() { observability.EndSpan(span, err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(in.Items))
	seen := make(map[uuid.UUID]bool, len(in.Items))
	for _, line := range in.Items {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}
	catalog, err := s.products.FindByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order = &domain.Order{
		ID:              uuid.New(),
		UserID:          in.UserID,
		Status:          domain.OrderPending,
		ShippingAddress: in.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, line := range in.Items {
		product, ok := catalog[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, line.ProductID)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     product.Price,
		})
	}
	order.Total = domain.OrderTotal(order.Items)

	err = database.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		return s.orderRepo.CreateOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total.StringFixed(2)),
	)
	return order, nil
}

// ApplyGiftCard redeems amount from the card and lowers the order total in one
// transaction. The total floors at zero even when the card covers more.
func (s *orderService) ApplyGiftCard(ctx context.Context, orderID uuid.UUID, code string, amount decimal.Decimal) (result domain.GiftCardApplication, err error) {
	ctx, span := observability.StartSpan(ctx, "order.apply_gift_card", attribute.String("order.id", orderID.String()))
	defer func() { observability.EndSpan(span, err) }()

	if err := domain.ValidateRedeemAmount(amount); err != nil {
		return result, err
	}

	summary, err := s.giftCards.Validate(ctx, code)
	if err != nil {
		return result, err
	}

	err = database.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		order, err := s.orderRepo.FindByIdForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", domain.ErrValidation, orderID, order.Status)
		}

		card, err := s.giftCards.Redeem(ctx, tx, summary.ID, orderID, amount)
		if err != nil {
			return err
		}
		total, err := s.orderRepo.ReduceTotal(ctx, tx, orderID, amount)
		if err != nil {
			return err
		}

		result = domain.GiftCardApplication{
			GiftCardApplied:  amount,
			RemainingBalance: card.Balance,
			NewOrderTotal:    total,
		}
		return nil
	})
	if err != nil {
		return domain.GiftCardApplication{}, err
	}

	s.logger.Info("gift card applied",
		zap.String("order_id", orderID.String()),
		zap.String("gift_card_id", summary.ID.String()),
		zap.String("applied", amount.StringFixed(2)),
		zap.String("new_total", result.NewOrderTotal.StringFixed(2)),
	)
	return result, nil
}

// UpdateOrder is the administrative override. It does not re-check gift card
// consistency.
func (s *orderService) UpdateOrder(ctx context.Context, orderID uuid.UUID, patch domain.OrderPatch) (*domain.Order, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, *patch.Status)
	}
	if patch.Total != nil && patch.Total.IsNegative() {
		return nil, fmt.Errorf("%w: total must not be negative", domain.ErrValidation)
	}
	if patch.UserID != nil && *patch.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: userId must not be empty", domain.ErrValidation)
	}

	var previous domain.OrderStatus
	err := database.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		order, err := s.orderRepo.FindByIdForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status
		patch.Apply(order)
		return s.orderRepo.UpdateOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.orderRepo.FindById(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("order updated",
		zap.String("order_id", orderID.String()),
		zap.String("from_status", string(previous)),
		zap.String("to_status", string(updated.Status)),
	)
	return updated, nil
}

func (s *orderService) FindOne(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.orderRepo.FindById(ctx, nil, orderID)
}

func (s *orderService) FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	return s.orderRepo.FindByUser(ctx, userID)
}

func (s *orderService) FindByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.Order, error) {
	return s.orderRepo.FindByVendor(ctx, vendorID)
}
