package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commerce-core/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GiftCardRepo interface {
	CreateGiftCard(ctx context.Context, tx *sql.Tx, card *domain.GiftCard) error
	FindByCode(ctx context.Context, code string) (*domain.GiftCard, error)
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.GiftCard, error)
	ListAll(ctx context.Context) ([]domain.GiftCard, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.GiftCard, error)
	// Decrement spends amount in one conditional statement. It returns the
	// updated card, or false when the card was missing, unusable at now, or
	// short of balance.
	Decrement(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.GiftCard, bool, error)
	InsertUsage(ctx context.Context, tx *sql.Tx, usage *domain.GiftCardUsage) error
	Usages(ctx context.Context, giftCardID uuid.UUID) ([]domain.GiftCardUsage, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

const giftCardColumns = `id, code, amount, balance, is_active, expires_at, vendor_id, created_at, updated_at`

type giftCardRepo struct {
	db *sql.DB
}

func NewGiftCardRepo(db *sql.DB) GiftCardRepo {
	return &giftCardRepo{db: db}
}

func scanGiftCard(row rowScanner) (domain.GiftCard, error) {
	var (
		g       domain.GiftCard
		expires sql.NullTime
		vendor  uuid.NullUUID
	)
	if err := row.Scan(
		&g.ID,
		&g.Code,
		&g.Amount,
		&g.Balance,
		&g.IsActive,
		&expires,
		&vendor,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		return domain.GiftCard{}, err
	}
	if expires.Valid {
		t := expires.Time
		g.ExpiresAt = &t
	}
	if vendor.Valid {
		v := vendor.UUID
		g.VendorID = &v
	}
	return g, nil
}

func (r *giftCardRepo) CreateGiftCard(ctx context.Context, tx *sql.Tx, card *domain.GiftCard) error {
	var (
		expires sql.NullTime
		vendor  uuid.NullUUID
	)
	if card.ExpiresAt != nil {
		expires = sql.NullTime{Time: *card.ExpiresAt, Valid: true}
	}
	if card.VendorID != nil {
		vendor = uuid.NullUUID{UUID: *card.VendorID, Valid: true}
	}

	_, err := pick(r.db, tx).ExecContext(ctx,
		`INSERT INTO gift_cards (`+giftCardColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		card.ID, card.Code, card.Amount, card.Balance, card.IsActive, expires, vendor, card.CreatedAt, card.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: gift card code %s already exists", domain.ErrConflict, card.Code)
	}
	if err != nil {
		return fmt.Errorf("insert gift card: %w", err)
	}
	return nil
}

func (r *giftCardRepo) FindByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	g, err := scanGiftCard(r.db.QueryRowContext(ctx, `SELECT `+giftCardColumns+` FROM gift_cards WHERE code = $1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: gift card %s", domain.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("find gift card: %w", err)
	}
	return &g, nil
}

func (r *giftCardRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.GiftCard, error) {
	g, err := scanGiftCard(pick(r.db, tx).QueryRowContext(ctx, `SELECT `+giftCardColumns+` FROM gift_cards WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: gift card %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find gift card: %w", err)
	}
	return &g, nil
}

func (r *giftCardRepo) ListAll(ctx context.Context) ([]domain.GiftCard, error) {
	return r.list(ctx, `SELECT `+giftCardColumns+` FROM gift_cards ORDER BY created_at DESC`)
}

func (r *giftCardRepo) ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.GiftCard, error) {
	return r.list(ctx, `SELECT `+giftCardColumns+` FROM gift_cards WHERE vendor_id = $1 ORDER BY created_at DESC`, vendorID)
}

func (r *giftCardRepo) list(ctx context.Context, query string, args ...any) ([]domain.GiftCard, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list gift cards: %w", err)
	}
	defer rows.Close()

	cards := []domain.GiftCard{}
	for rows.Next() {
		g, err := scanGiftCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, g)
	}
	return cards, rows.Err()
}

func (r *giftCardRepo) Decrement(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.GiftCard, bool, error) {
	g, err := scanGiftCard(pick(r.db, tx).QueryRowContext(ctx,
		`UPDATE gift_cards
		 SET balance = balance - $2,
		     is_active = (balance - $2) > 0,
		     updated_at = $3
		 WHERE id = $1
		   AND is_active
		   AND balance >= $2
		   AND (expires_at IS NULL OR expires_at > $3)
		 RETURNING `+giftCardColumns,
		id, amount, now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("decrement gift card: %w", err)
	}
	return &g, true, nil
}

func (r *giftCardRepo) InsertUsage(ctx context.Context, tx *sql.Tx, usage *domain.GiftCardUsage) error {
	_, err := pick(r.db, tx).ExecContext(ctx,
		`INSERT INTO gift_card_usages (id, gift_card_id, order_id, amount_used, used_at) VALUES ($1, $2, $3, $4, $5)`,
		usage.ID, usage.GiftCardID, usage.OrderID, usage.AmountUsed, usage.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gift card usage: %w", err)
	}
	return nil
}

func (r *giftCardRepo) Usages(ctx context.Context, giftCardID uuid.UUID) ([]domain.GiftCardUsage, error) {
	return queryUsages(ctx, r.db,
		`SELECT id, gift_card_id, order_id, amount_used, used_at FROM gift_card_usages WHERE gift_card_id = $1 ORDER BY used_at`,
		giftCardID,
	)
}

// DeactivateExpired clears is_active on cards whose expiry has passed.
func (r *giftCardRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE gift_cards SET is_active = FALSE, updated_at = $1 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired gift cards: %w", err)
	}
	return res.RowsAffected()
}

func queryUsages(ctx context.Context, q querier, query string, args ...any) ([]domain.GiftCardUsage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list gift card usages: %w", err)
	}
	defer rows.Close()

	usages := []domain.GiftCardUsage{}
	for rows.Next() {
		var u domain.GiftCardUsage
		if err := rows.Scan(&u.ID, &u.GiftCardID, &u.OrderID, &u.AmountUsed, &u.UsedAt); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}
