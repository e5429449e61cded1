package service

import (
	"context"
	"database/sql"
	"errors"
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

type GiftCardService interface {
	Validate(ctx context.Context, code string) (domain.GiftCardSummary, error)
	// Redeem spends amount from the card for orderID. When tx is nil the
	// redemption runs in its own transaction.
	Redeem(ctx context.Context, tx *sql.Tx, giftCardID, orderID uuid.UUID, amount decimal.Decimal) (*domain.GiftCard, error)
	Issue(ctx context.Context, in domain.IssueGiftCardInput) (*domain.GiftCard, error)
	Balance(ctx context.Context, code string) (*domain.GiftCard, error)
	ListAll(ctx context.Context) ([]domain.GiftCard, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.GiftCard, error)
	Usages(ctx context.Context, giftCardID uuid.UUID) ([]domain.GiftCardUsage, error)
}

type giftCardService struct {
	db        *sql.DB
	giftCards repo.GiftCardRepo
	logger    *zap.Logger
	now       func() time.Time
}

func NewGiftCardService(db *sql.DB, giftCards repo.GiftCardRepo, logger *zap.Logger) GiftCardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &giftCardService{
		db:        db,
		giftCards: giftCards,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *giftCardService) Validate(ctx context.Context, code string) (domain.GiftCardSummary, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return domain.GiftCardSummary{}, fmt.Errorf("%w: gift card code is required", domain.ErrValidation)
	}
	card, err := s.giftCards.FindByCode(ctx, code)
	if err != nil {
		return domain.GiftCardSummary{}, err
	}
	if err := card.Usable(s.now()); err != nil {
		return domain.GiftCardSummary{}, err
	}
	return card.Summary(), nil
}

func (s *giftCardService) Redeem(ctx context.Context, tx *sql.Tx, giftCardID, orderID uuid.UUID, amount decimal.Decimal) (card *domain.GiftCard, err error) {
	ctx, span := observability.StartSpan(ctx, "giftcard.redeem",
		attribute.String("gift_card.id", giftCardID.String()),
		attribute.String("order.id", orderID.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := domain.ValidateRedeemAmount(amount); err != nil {
		return nil, err
	}

	if tx == nil {
		err = database.WithTx(ctx, s.db, nil, func(own *sql.Tx) error {
			card, err = s.redeem(ctx, own, giftCardID, orderID, amount)
			return err
		})
		if err != nil {
			return nil, err
		}
		return card, nil
	}
	return s.redeem(ctx, tx, giftCardID, orderID, amount)
}

func (s *giftCardService) redeem(ctx context.Context, tx *sql.Tx, giftCardID, orderID uuid.UUID, amount decimal.Decimal) (*domain.GiftCard, error) {
	now := s.now().UTC()

	card, ok, err := s.giftCards.Decrement(ctx, tx, giftCardID, amount, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The conditional update matched nothing; read the row to explain why.
		current, err := s.giftCards.FindById(ctx, tx, giftCardID)
		if err != nil {
			return nil, err
		}
		if err := current.CanRedeem(amount, now); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: gift card %s changed concurrently", domain.ErrInsufficientBalance, current.Code)
	}

	usage := &domain.GiftCardUsage{
		ID:         uuid.New(),
		GiftCardID: giftCardID,
		OrderID:    orderID,
		AmountUsed: amount,
		UsedAt:     now,
	}
	if err := s.giftCards.InsertUsage(ctx, tx, usage); err != nil {
		return nil, err
	}

	s.logger.Info("gift card redeemed",
		zap.String("gift_card_id", giftCardID.String()),
		zap.String("order_id", orderID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", card.Balance.StringFixed(2)),
	)
	return card, nil
}

func (s *giftCardService) Issue(ctx context.Context, in domain.IssueGiftCardInput) (*domain.GiftCard, error) {
	now := s.now().UTC()
	if err := in.Validate(now); err != nil {
		return nil, err
	}

	amount := in.Amount.Round(2)
	card := &domain.GiftCard{
		ID:        uuid.New(),
		Code:      domain.NormalizeCode(in.Code),
		Amount:    amount,
		Balance:   amount,
		IsActive:  true,
		ExpiresAt: in.ExpiresAt,
		VendorID:  in.VendorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.giftCards.CreateGiftCard(ctx, nil, card); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			s.logger.Error("issue gift card failed", zap.Error(err))
		}
		return nil, err
	}

	fields := []zap.Field{zap.String("gift_card_id", card.ID.String()), zap.String("amount", amount.StringFixed(2))}
	if card.VendorID != nil {
		fields = append(fields, zap.String("vendor_id", card.VendorID.String()))
	}
	s.logger.Info("gift card issued", fields...)
	return card, nil
}

func (s *giftCardService) Balance(ctx context.Context, code string) (*domain.GiftCard, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: gift card code is required", domain.ErrValidation)
	}
	card, err := s.giftCards.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if card.IsActive && card.Expired(s.now()) {
		card.IsActive = false
	}
	return card, nil
}

func (s *giftCardService) ListAll(ctx context.Context) ([]domain.GiftCard, error) {
	cards, err := s.giftCards.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.effective(cards), nil
}

func (s *giftCardService) ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.GiftCard, error) {
	cards, err := s.giftCards.ListByVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	return s.effective(cards), nil
}

func (s *giftCardService) Usages(ctx context.Context, giftCardID uuid.UUID) ([]domain.GiftCardUsage, error) {
	return s.giftCards.Usages(ctx, giftCardID)
}

// effective reports expired cards as inactive even before the expiry sweep
// has written the flag.
func (s *giftCardService) effective(cards []domain.GiftCard) []domain.GiftCard {
	now := s.now()
	for i := range cards {
		if cards[i].IsActive && cards[i].Expired(now) {
			cards[i].IsActive = false
		}
	}
	return cards
}
