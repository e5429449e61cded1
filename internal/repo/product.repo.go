package repo

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-core/internal/domain"

	"github.com/google/uuid"
)

// ProductRepo reads the catalog owned by the product service.
type ProductRepo interface {
	FindByIds(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error)
}

type productRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

func (r *productRepo) FindByIds(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	out := make(map[uuid.UUID]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, price, vendor_id FROM products WHERE id IN (`+placeholders(1, len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      domain.Product
			vendor uuid.NullUUID
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &vendor); err != nil {
			return nil, err
		}
		if vendor.Valid {
			v := vendor.UUID
			p.VendorID = &v
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
