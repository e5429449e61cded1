package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"commerce-core/internal/domain"

	"github.com/shopspring/decimal"
)

// StatsRepo returns raw rows for the statistics aggregator. Every query covers
// orders created in [from, to).
type StatsRepo interface {
	OrderFacts(ctx context.Context, scope domain.Scope, from, to time.Time) ([]domain.OrderFact, error)
	ItemFacts(ctx context.Context, scope domain.Scope, from, to time.Time) ([]domain.ItemFact, error)
	GiftCardRedeemed(ctx context.Context, scope domain.Scope, from, to time.Time) (decimal.Decimal, error)
}

type statsRepo struct {
	db *sql.DB
}

func NewStatsRepo(db *sql.DB) StatsRepo {
	return &statsRepo{db: db}
}

func (r *statsRepo) OrderFacts(ctx context.Context, scope domain.Scope, from, to time.Time) ([]domain.OrderFact, error) {
	query := `SELECT o.id, o.status, o.created_at FROM orders o WHERE o.created_at >= $1 AND o.created_at < $2`
	args := []any{from, to}
	if !scope.Global() {
		query += ` AND EXISTS (
		   SELECT 1 FROM order_items oi JOIN products p ON p.id = oi.product_id
		   WHERE oi.order_id = o.id AND p.vendor_id = $3
		 )`
		args = append(args, *scope.VendorID)
	}
	query += ` ORDER BY o.created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("order facts: %w", err)
	}
	defer rows.Close()

	var facts []domain.OrderFact
	for rows.Next() {
		var f domain.OrderFact
		if err := rows.Scan(&f.ID, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (r *statsRepo) ItemFacts(ctx context.Context, scope domain.Scope, from, to time.Time) ([]domain.ItemFact, error) {
	query := `SELECT oi.order_id, oi.product_id, COALESCE(p.name, ''), oi.quantity, oi.price, o.status, o.created_at
		 FROM order_items oi
		 JOIN orders o ON o.id = oi.order_id
		 LEFT JOIN products p ON p.id = oi.product_id
		 WHERE o.created_at >= $1 AND o.created_at < $2`
	args := []any{from, to}
	if !scope.Global() {
		query += ` AND p.vendor_id = $3`
		args = append(args, *scope.VendorID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("item facts: %w", err)
	}
	defer rows.Close()

	var facts []domain.ItemFact
	for rows.Next() {
		var f domain.ItemFact
		if err := rows.Scan(&f.OrderID, &f.ProductID, &f.ProductName, &f.Quantity, &f.Price, &f.OrderStatus, &f.OrderCreatedAt); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// GiftCardRedeemed sums redemptions made in the window. The vendor scope
// counts only cards issued by that vendor.
func (r *statsRepo) GiftCardRedeemed(ctx context.Context, scope domain.Scope, from, to time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(u.amount_used), 0) FROM gift_card_usages u`
	args := []any{from, to}
	if scope.Global() {
		query += ` WHERE u.used_at >= $1 AND u.used_at < $2`
	} else {
		query += ` JOIN gift_cards g ON g.id = u.gift_card_id WHERE u.used_at >= $1 AND u.used_at < $2 AND g.vendor_id = $3`
		args = append(args, *scope.VendorID)
	}

	var total decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("gift card redeemed: %w", err)
	}
	return total, nil
}
