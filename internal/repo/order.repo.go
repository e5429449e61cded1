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

type OrderRepo interface {
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	FindByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.Order, error)
	UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	ReduceTotal(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	AttachPaymentIntent(ctx context.Context, tx *sql.Tx, id uuid.UUID, intentID string) (domain.OrderStatus, error)
	TransitionStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, t domain.Transition) (bool, error)
	FindStuckOrders(ctx context.Context, olderThan time.Duration, after *StuckCursor, limit int) ([]domain.Order, error)
}

const orderColumns = `o.id, o.user_id, o.status, o.total, o.payment_intent_id, o.shipping_address, o.created_at, o.updated_at`

const itemColumns = `oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price`

type orderRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o       domain.Order
		intent  sql.NullString
		address []byte
	)
	if err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.Total,
		&intent,
		&address,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	o.PaymentIntentID = stringPtr(intent)
	if len(address) > 0 {
		o.ShippingAddress = append([]byte(nil), address...)
	}
	o.Items = []domain.OrderItem{}
	return o, nil
}

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var it domain.OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price)
	return it, err
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	q := pick(r.db, tx)

	var address sql.NullString
	if len(order.ShippingAddress) > 0 {
		address = sql.NullString{String: string(order.ShippingAddress), Valid: true}
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, status, total, payment_intent_id, shipping_address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`,
		order.ID, order.UserID, order.Status, order.Total, nullString(order.PaymentIntentID), address, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range order.Items {
		_, err := q.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, product_id, position, quantity, price) VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, order.ID, it.ProductID, i, it.Quantity, it.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}
	return nil
}

func (r *orderRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, tx, id, "")
}

// FindByIdForUpdate locks the order row until tx ends.
func (r *orderRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	if tx == nil {
		return nil, errors.New("find order for update: transaction required")
	}
	return r.findOne(ctx, tx, id, " FOR UPDATE")
}

func (r *orderRepo) findOne(ctx context.Context, tx *sql.Tx, id uuid.UUID, suffix string) (*domain.Order, error) {
	q := pick(r.db, tx)

	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`+suffix, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM order_items oi WHERE oi.order_id = $1 ORDER BY oi.position`, id)
	if err != nil {
		return nil, fmt.Errorf("find order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	usages, err := queryUsages(ctx, q, `SELECT id, gift_card_id, order_id, amount_used, used_at FROM gift_card_usages WHERE order_id = $1 ORDER BY used_at`, id)
	if err != nil {
		return nil, err
	}
	order.GiftCardUsages = usages
	return &order, nil
}

// FindByPaymentIntent returns the most recent order holding intentID.
func (r *orderRepo) FindByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.payment_intent_id = $1 ORDER BY o.updated_at DESC LIMIT 1`, intentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order for payment intent %s", domain.ErrNotFound, intentID)
	}
	if err != nil {
		return nil, fmt.Errorf("find order by payment intent: %w", err)
	}
	return &order, nil
}

func (r *orderRepo) FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	return r.findMany(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.user_id = $1 ORDER BY o.created_at DESC`,
		`SELECT `+itemColumns+` FROM order_items oi JOIN orders o ON o.id = oi.order_id WHERE o.user_id = $1 ORDER BY oi.order_id, oi.position`,
		userID,
	)
}

// FindByVendor returns orders with at least one item of the vendor's products.
// Only that vendor's items are attached.
func (r *orderRepo) FindByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.Order, error) {
	return r.findMany(ctx,
		`SELECT `+orderColumns+` FROM orders o
		 WHERE EXISTS (
		   SELECT 1 FROM order_items oi JOIN products p ON p.id = oi.product_id
		   WHERE oi.order_id = o.id AND p.vendor_id = $1
		 )
		 ORDER BY o.created_at DESC`,
		`SELECT `+itemColumns+` FROM order_items oi JOIN products p ON p.id = oi.product_id
		 WHERE p.vendor_id = $1 ORDER BY oi.order_id, oi.position`,
		vendorID,
	)
}

func (r *orderRepo) findMany(ctx context.Context, orderQuery, itemQuery string, arg any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, orderQuery, arg)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	itemRows, err := r.db.QueryContext(ctx, itemQuery, arg)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		it, err := scanItem(itemRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[it.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	return orders, itemRows.Err()
}

func (r *orderRepo) UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	order.UpdatedAt = r.now().UTC()
	res, err := pick(r.db, tx).ExecContext(ctx,
		`UPDATE orders SET status = $1, total = $2, payment_intent_id = $3, user_id = $4, updated_at = $5 WHERE id = $6`,
		order.Status, order.Total, nullString(order.PaymentIntentID), order.UserID, order.UpdatedAt, order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, order.ID)
	}
	return nil
}

// ReduceTotal subtracts amount from the stored total, flooring at zero, and
// returns the new total.
func (r *orderRepo) ReduceTotal(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := pick(r.db, tx).QueryRowContext(ctx,
		`UPDATE orders SET total = GREATEST(total - $2, 0), updated_at = now() WHERE id = $1 RETURNING total`,
		id, amount,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("reduce order total: %w", err)
	}
	return total, nil
}

// AttachPaymentIntent stores the intent reference and moves a pending order to
// processing. Orders already past pending keep their status.
func (r *orderRepo) AttachPaymentIntent(ctx context.Context, tx *sql.Tx, id uuid.UUID, intentID string) (domain.OrderStatus, error) {
	var status domain.OrderStatus
	err := pick(r.db, tx).QueryRowContext(ctx,
		`UPDATE orders
		 SET payment_intent_id = $2,
		     status = CASE WHEN status = $3 THEN $4 ELSE status END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING status`,
		id, intentID, domain.OrderPending, domain.OrderProcessing,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("attach payment intent: %w", err)
	}
	return status, nil
}

// TransitionStatus applies t only when the order is in one of t.From. It
// reports whether a row changed.
func (r *orderRepo) TransitionStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, t domain.Transition) (bool, error) {
	if len(t.From) == 0 {
		return false, nil
	}
	args := []any{id, t.To}
	for _, s := range t.From {
		args = append(args, s)
	}
	res, err := pick(r.db, tx).ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 AND status IN (`+placeholders(3, len(t.From))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// StuckCursor is the position after the last order of a FindStuckOrders page.
type StuckCursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

// CursorAfter returns the cursor that continues after o.
func CursorAfter(o domain.Order) *StuckCursor {
	return &StuckCursor{UpdatedAt: o.UpdatedAt, ID: o.ID}
}

// FindStuckOrders lists processing orders with an intent that have not been
// touched for olderThan, ordered by (updated_at, id). A nil cursor starts at
// the oldest order.
func (r *orderRepo) FindStuckOrders(ctx context.Context, olderThan time.Duration, after *StuckCursor, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + orderColumns + ` FROM orders o
		 WHERE o.status = $1 AND o.payment_intent_id IS NOT NULL AND o.updated_at < $2`
	args := []any{domain.OrderProcessing, r.now().Add(-olderThan)}
	if after != nil {
		query += ` AND (o.updated_at, o.id) > ($3, $4)`
		args = append(args, after.UpdatedAt, after.ID)
	}
	query += fmt.Sprintf(` ORDER BY o.updated_at, o.id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find stuck orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
