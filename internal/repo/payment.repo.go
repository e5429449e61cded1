package repo

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-core/internal/domain"

	"github.com/google/uuid"
)

type PaymentRepo interface {
	// tx *sql.Tx -> transaction control; a replayed intent id is ignored
	CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	// update the attempt when the gateway reports an outcome
	UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, intentID string, status domain.PaymentStatus) error
	// mark every other open attempt of the order as superseded by keepIntentID
	SupersedeOthers(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, keepIntentID string) ([]string, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error {
	query := `INSERT INTO payments (id, order_id, intent_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (intent_id) DO NOTHING`

	_, err := pick(r.db, tx).ExecContext(
		ctx, query, payment.ID, payment.OrderID, payment.IntentID, payment.Amount, payment.Currency, payment.Status, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, intentID string, status domain.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $2,
		    updated_at = now()
		WHERE intent_id = $1
	`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, intentID, status); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func (r *paymentRepo) SupersedeOthers(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, keepIntentID string) ([]string, error) {
	rows, err := pick(r.db, tx).QueryContext(ctx, `
		UPDATE payments
		SET status = $3, updated_at = now()
		WHERE order_id = $1 AND intent_id <> $2 AND status = $4
		RETURNING intent_id
	`, orderID, keepIntentID, domain.PaymentSuperseded, domain.PaymentProcessing)
	if err != nil {
		return nil, fmt.Errorf("supersede payments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *paymentRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, intent_id, amount, currency, status, created_at, updated_at
		FROM payments WHERE order_id = $1 ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(
			&p.ID,
			&p.OrderID,
			&p.IntentID,
			&p.Amount,
			&p.Currency,
			&p.Status,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
